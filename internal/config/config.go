// config - источник загрузки конфигурации edge-шлюза витрины.
//
// Источники (по убыванию приоритета):
//  1. явный путь --config;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. только ENV (cleanenv).
//
// После загрузки Load вызывает Validate: производные значения (AdminSet,
// список CORS-источников) разбираются один раз и дальше только читаются.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	// Небезопасные значения для локальной разработки. В prod запрещены.
	DevJWTSecret  = "dev-insecure-session-secret"
	DevCSRFSecret = "dev-insecure-csrf-secret"
)

var (
	// ErrInsecureSecret — в prod не задан, равен dev-значению или совпадает с другим секрет.
	ErrInsecureSecret = errors.New("insecure secret")

	// ErrUnknownEnv — неизвестное значение окружения.
	ErrUnknownEnv = errors.New("unknown environment")
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV"`
	HTTP      HTTPConfig      `yaml:"http"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Auth      AuthConfig      `yaml:"auth"`
	Cookie    CookieConfig    `yaml:"cookie"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`

	admins  AdminSet
	origins []string
}

// HTTPConfig — публичный HTTP-сервер шлюза.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// MetricsConfig — отдельный HTTP для Prometheus.
type MetricsConfig struct {
	Host string `yaml:"host" env:"METRICS_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"METRICS_PORT" env-default:"9090"`
}

func (m MetricsConfig) Addr() string { return net.JoinHostPort(m.Host, m.Port) }

// AuthConfig — ключи и сроки жизни токенов.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"  env:"JWT_SECRET"`
	CSRFSecret string        `yaml:"csrf_secret" env:"CSRF_SECRET"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"168h"`
	CSRFTTL    time.Duration `yaml:"csrf_ttl"    env:"CSRF_TTL"    env-default:"1h"`
	Issuer     string        `yaml:"issuer"      env:"ISSUER"      env-default:"storefront-edge"`
}

// CookieConfig — атрибуты сессионной cookie.
// Secure принудительно включается в prod (см. Config.CookieSecure).
type CookieConfig struct {
	Name   string `yaml:"name"   env:"COOKIE_NAME"   env-default:"storefront_session"`
	Domain string `yaml:"domain" env:"COOKIE_DOMAIN"`
	Secure bool   `yaml:"secure" env:"COOKIE_SECURE"`
}

// SecurityConfig — сырые списки из окружения. Разобранные значения доступны
// через Config.Admins и Config.AllowedOrigins.
type SecurityConfig struct {
	AdminEmails    string   `yaml:"admin_emails"    env:"ADMIN_EMAILS"`
	AllowedOrigins string   `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	DevOrigins     []string `yaml:"dev_origins"     env:"DEV_ORIGINS" env-default:"http://localhost:3000,http://127.0.0.1:3000"`
	MaxInputLength int      `yaml:"max_input_length" env:"MAX_INPUT_LENGTH" env-default:"1000"`
}

// RateLimitConfig — бэкенд лимитера. "memory" — на процесс, "redis" — общий для инстансов.
type RateLimitConfig struct {
	Backend       string        `yaml:"backend"        env:"RATE_LIMIT_BACKEND"        env-default:"memory"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"RATE_LIMIT_SWEEP_INTERVAL" env-default:"1m"`
}

// DBConfig — настройки подключения к базе пользователей.
// Пустой URL отключает регистрацию/логин по паролю.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
}

type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
}

// OAuthConfig — вход через Google. Пустой ClientID отключает маршруты OAuth.
type OAuthConfig struct {
	GoogleClientID     string `yaml:"google_client_id"     env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `yaml:"google_client_secret" env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL        string `yaml:"redirect_url"         env:"OAUTH_REDIRECT_URL"`
}

func (o OAuthConfig) Enabled() bool { return o.GoogleClientID != "" && o.GoogleClientSecret != "" }

// UpstreamConfig — адрес рендерера витрины, куда проксируются запросы.
type UpstreamConfig struct {
	URL string `yaml:"url" env:"UPSTREAM_URL"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service  time.Duration `yaml:"service"  env:"SERVICE_TIMEOUT"  env-default:"15s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// AdminSet — множество email администраторов в нижнем регистре.
type AdminSet map[string]struct{}

// ParseAdminSet разбирает список через запятую; пустые элементы пропускаются.
func ParseAdminSet(raw string) AdminSet {
	set := make(AdminSet)
	for _, part := range strings.Split(raw, ",") {
		email := strings.ToLower(strings.TrimSpace(part))
		if email == "" {
			continue
		}
		set[email] = struct{}{}
	}

	return set
}

// Contains сравнивает без учёта регистра.
func (s AdminSet) Contains(email string) bool {
	if email == "" {
		return false
	}
	_, ok := s[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// Admins возвращает множество администраторов, разобранное при загрузке.
func (c *Config) Admins() AdminSet { return c.admins }

// AllowedOrigins — итоговый CORS allow-list: в prod из ALLOWED_ORIGINS,
// иначе фиксированные dev-источники.
func (c *Config) AllowedOrigins() []string { return c.origins }

// IsProduction истинно для prod-окружения.
func (c *Config) IsProduction() bool { return c.Env == EnvProd }

// CookieSecure — атрибут Secure сессионной cookie.
func (c *Config) CookieSecure() bool { return c.Cookie.Secure || c.IsProduction() }

// CookieDomain — атрибут Domain сессионной cookie; вне prod пустой
// (cookie host-only, localhost не ломается).
func (c *Config) CookieDomain() string {
	if !c.IsProduction() {
		return ""
	}
	return c.Cookie.Domain
}

// MustLoad — паника при ошибке загрузки.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	read := func(p string) (*Config, error) {
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		return finish(&cfg)
	}

	// 1) --config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}

		return read(path)
	}

	// 2) CONFIG_PATH
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", envPath, err)
		}

		return read(envPath)
	}

	// 3) ./local.yaml
	if _, err := os.Stat("local.yaml"); err == nil {
		return read("local.yaml")
	}

	// 4) только ENV
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return finish(&cfg)
}

// finish применяет алиас NODE_ENV и валидирует конфигурацию.
// cleanenv.ReadConfig уже накладывает ENV поверх YAML.
func finish(cfg *Config) (*Config, error) {
	if cfg.Env == "" {
		cfg.Env = envFromNodeEnv(os.Getenv("NODE_ENV"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envFromNodeEnv(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "production", EnvProd:
		return EnvProd
	case "development", EnvDev:
		return EnvDev
	default:
		return EnvLocal
	}
}

// Validate проверяет секреты и заполняет производные значения.
//
// В prod отсутствующий секрет, dev-значение или совпадение JWT_SECRET и
// CSRF_SECRET фатальны. Вне prod пустые секреты заменяются dev-значениями
// с предупреждением в лог.
func (c *Config) Validate() error {
	const op = "config.Validate"

	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("%s: %w: %q", op, ErrUnknownEnv, c.Env)
	}

	if c.IsProduction() {
		switch {
		case c.Auth.JWTSecret == "" || c.Auth.JWTSecret == DevJWTSecret:
			return fmt.Errorf("%s: %w: JWT_SECRET", op, ErrInsecureSecret)
		case c.Auth.CSRFSecret == "" || c.Auth.CSRFSecret == DevCSRFSecret:
			return fmt.Errorf("%s: %w: CSRF_SECRET", op, ErrInsecureSecret)
		case c.Auth.JWTSecret == c.Auth.CSRFSecret:
			return fmt.Errorf("%s: %w: JWT_SECRET equals CSRF_SECRET", op, ErrInsecureSecret)
		}
	} else {
		if c.Auth.JWTSecret == "" {
			c.Auth.JWTSecret = DevJWTSecret
			slog.Warn("insecure_default_secret", slog.String("name", "JWT_SECRET"), slog.String("env", c.Env))
		}
		if c.Auth.CSRFSecret == "" {
			c.Auth.CSRFSecret = DevCSRFSecret
			slog.Warn("insecure_default_secret", slog.String("name", "CSRF_SECRET"), slog.String("env", c.Env))
		}
	}

	if c.Cookie.Name == "" {
		c.Cookie.Name = "storefront_session"
	}

	c.admins = ParseAdminSet(c.Security.AdminEmails)

	if c.IsProduction() {
		c.origins = splitList(c.Security.AllowedOrigins)
	} else {
		c.origins = append([]string(nil), c.Security.DevOrigins...)
	}

	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}

	return out
}
