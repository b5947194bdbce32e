package edge

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
)

var securityHeaders = [...][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; object-src 'none'; base-uri 'self'"},
	{"X-XSS-Protection", "0"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
}

// SetSecurityHeaders пишет заголовки безопасности в карту заголовков ответа.
// Вызывается до любого решения политики, поэтому их несёт каждый выход.
func SetSecurityHeaders(h http.Header) {
	for _, kv := range securityHeaders {
		h.Set(kv[0], kv[1])
	}
}

// StripSecurityHeaders удаляет из ответа upstream заголовки, которыми
// владеет edge: иначе клиент получит два конфликтующих значения.
func StripSecurityHeaders(h http.Header) {
	for _, kv := range securityHeaders {
		h.Del(kv[0])
	}
}

// CORSConfig — настройки CORS. AllowedOrigins в prod берутся из
// ALLOWED_ORIGINS, иначе — фиксированные dev-источники.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

func (c CORSConfig) withDefaults() CORSConfig {
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"Content-Type", "Authorization", "X-CSRF-Token", "X-Request-Id"}
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 10 * time.Minute
	}
	return c
}

func (c CORSConfig) allowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// handler собирает go-chi/cors поверх allowed. Разрешённый Origin
// возвращается как есть, не "*": ответы несут credentials. Preflight идёт
// дальше, 204 пишет guard.
func (c CORSConfig) handler() *cors.Cors {
	return cors.New(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return c.allowed(origin)
		},
		AllowedMethods:     c.AllowedMethods,
		AllowedHeaders:     c.AllowedHeaders,
		AllowCredentials:   true,
		MaxAge:             int(c.MaxAge / time.Second),
		OptionsPassthrough: true,
	})
}
