package edge

import (
	"net/url"
	"strings"
)

// Paths — классы маршрутов, которые различает политика.
type Paths struct {
	// Protected требуют сессии; совпадение по префиксу сегмента.
	Protected []string
	// AuthPages — страницы входа/регистрации; аутентифицированного уводят на Home.
	AuthPages   []string
	AdminPrefix string
	APIPrefix   string
	Login       string
	Home        string
}

// DefaultPaths — маршруты витрины.
func DefaultPaths() Paths {
	return Paths{
		Protected:   []string{"/account", "/checkout", "/order-confirmation"},
		AuthPages:   []string{"/auth/login", "/auth/register"},
		AdminPrefix: "/admin",
		APIPrefix:   "/api",
		Login:       "/auth/login",
		Home:        "/",
	}
}

func (p Paths) withDefaults() Paths {
	d := DefaultPaths()
	if p.Protected == nil {
		p.Protected = d.Protected
	}
	if p.AuthPages == nil {
		p.AuthPages = d.AuthPages
	}
	if p.AdminPrefix == "" {
		p.AdminPrefix = d.AdminPrefix
	}
	if p.APIPrefix == "" {
		p.APIPrefix = d.APIPrefix
	}
	if p.Login == "" {
		p.Login = d.Login
	}
	if p.Home == "" {
		p.Home = d.Home
	}
	return p
}

func (p Paths) isAPI(path string) bool { return underPrefix(path, p.APIPrefix) }

func (p Paths) isAdmin(path string) bool { return underPrefix(path, p.AdminPrefix) }

func (p Paths) isProtected(path string) bool {
	for _, pref := range p.Protected {
		if underPrefix(path, pref) {
			return true
		}
	}
	return false
}

func (p Paths) isAuthPage(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, page := range p.AuthPages {
		if path == page {
			return true
		}
	}
	return false
}

// loginURL — страница входа с параметром redirect на исходную цель.
func (p Paths) loginURL(target string) string {
	return p.Login + "?" + url.Values{"redirect": {target}}.Encode()
}

// underPrefix: path равен prefix или продолжается сегментом после него.
func underPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}
