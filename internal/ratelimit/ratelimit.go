// ratelimit — бюджеты запросов по ключу клиента с фиксированным окном.
//
// Три независимые политики (General, Auth, API) выбираются по префиксу
// пути. Списание атомарно: MemoryLimiter держит один мьютекс на время
// read-modify-write, RedisLimiter выполняет один Lua-скрипт.
// Списанный пункт не возвращается, даже если клиент отменил запрос.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidPolicy — у политики нет имени, бюджета или окна.
var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// Policy — бюджет Points на окно Window.
type Policy struct {
	Name   string
	Points int
	Window time.Duration
}

func (p Policy) validate() error {
	if p.Name == "" || p.Points <= 0 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

var (
	General = Policy{Name: "general", Points: 100, Window: 60 * time.Second}
	Auth    = Policy{Name: "auth", Points: 5, Window: 300 * time.Second}
	API     = Policy{Name: "api", Points: 50, Window: 60 * time.Second}
)

// Result — исход списания. При отказе RetryAfter — точное время до сброса окна.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter списывает один пункт бюджета ключа по политике.
// Ошибка означает сбой бэкенда, а не отказ: отказ — Result.Allowed == false.
type Limiter interface {
	Consume(ctx context.Context, key string, p Policy) (Result, error)
}

// PolicyFor выбирает политику по пути: /api/auth — Auth, прочие /api — API,
// остальное — General.
func PolicyFor(path string) Policy {
	switch {
	case path == "/api/auth" || strings.HasPrefix(path, "/api/auth/"):
		return Auth
	case path == "/api" || strings.HasPrefix(path, "/api/"):
		return API
	default:
		return General
	}
}

// AnonymousKey — общий ключ для запросов без IP-заголовков.
const AnonymousKey = "anonymous"

// ClientKey: первый адрес из X-Forwarded-For, иначе X-Real-IP, иначе "anonymous".
// RemoteAddr не используется.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	return AnonymousKey
}

func bucketKey(p Policy, key string) string { return p.Name + ":" + key }
