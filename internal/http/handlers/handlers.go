package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/pribylovaa/go-storefront-edge/internal/errors"
	"github.com/pribylovaa/go-storefront-edge/internal/models"
	"github.com/pribylovaa/go-storefront-edge/internal/oauth"
	"github.com/pribylovaa/go-storefront-edge/internal/threat"
)

// maxBodyBytes ограничивает JSON-тела auth-эндпойнтов.
const maxBodyBytes = 1 << 20

// Accounts — операции над учётными записями (service.Service).
type Accounts interface {
	Register(ctx context.Context, email, password, name string) (models.Identity, error)
	Login(ctx context.Context, email, password string) (models.Identity, error)
	EnsureUser(ctx context.Context, email, name, avatar string) (models.Identity, error)
	UserByID(ctx context.Context, id uuid.UUID) (models.Identity, error)
}

// Sessions — жизненный цикл сессии (session.Manager).
type Sessions interface {
	CreateSessionResponse(w http.ResponseWriter, user models.Identity) (models.Session, error)
	ClearSession(w http.ResponseWriter)
	RequireAuth(r *http.Request) (models.Session, error)
	RotateSession(w http.ResponseWriter, r *http.Request, user models.Identity) (models.Session, error)
	IssueCSRF(sess models.Session) (string, error)
}

// Handlers агрегирует зависимости HTTP-эндпойнтов.
type Handlers struct {
	accounts  Accounts
	sessions  Sessions
	providers map[string]oauth.Provider
	upstream  http.Handler

	secureCookies bool
	maxInput      int
	home          string
}

// Option настраивает Handlers.
type Option func(*Handlers)

// WithOAuth регистрирует OAuth-провайдеров по их Name().
func WithOAuth(providers ...oauth.Provider) Option {
	return func(h *Handlers) {
		for _, p := range providers {
			h.providers[p.Name()] = p
		}
	}
}

// WithUpstream задаёт обработчик для всех прочих маршрутов (reverse proxy).
func WithUpstream(upstream http.Handler) Option {
	return func(h *Handlers) { h.upstream = upstream }
}

// WithSecureCookies включает Secure у служебных cookie (OAuth state).
func WithSecureCookies(secure bool) Option {
	return func(h *Handlers) { h.secureCookies = secure }
}

// WithMaxInputLength ограничивает длину свободных текстовых полей.
func WithMaxInputLength(n int) Option {
	return func(h *Handlers) { h.maxInput = n }
}

func New(accounts Accounts, sessions Sessions, opts ...Option) *Handlers {
	h := &Handlers{
		accounts:  accounts,
		sessions:  sessions,
		providers: make(map[string]oauth.Provider),
		maxInput:  threat.DefaultMaxLength,
		home:      "/",
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Upstream проксирует запрос дальше или отвечает 404, если upstream не задан.
func (h *Handlers) Upstream(w http.ResponseWriter, r *http.Request) {
	if h.upstream == nil {
		apierrors.WriteError(w, r, apierrors.ErrNoRoute)
		return
	}

	h.upstream.ServeHTTP(w, r)
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля и хвост после объекта.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	const op = "handlers.decodeStrict"

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(value); err != nil {
		return fmt.Errorf("%s: %w", op, apierrors.ErrBadRequest)
	}
	if !errors.Is(dec.Decode(&struct{}{}), io.EOF) {
		return fmt.Errorf("%s: %w", op, apierrors.ErrBadRequest)
	}

	return nil
}
