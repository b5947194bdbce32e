package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-storefront-edge/internal/http/handlers"
	"github.com/pribylovaa/go-storefront-edge/internal/http/middleware"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger  *slog.Logger
	Timeout time.Duration
	// Edge — политика edge (заголовки, CORS, лимиты, угрозы, редиректы).
	Edge middleware.Middleware
	// CSRF защищает изменяющие auth-эндпойнты.
	CSRF middleware.Middleware
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
// Всё, что не совпало с маршрутами edge, уходит в upstream.
func NewRouter(h *handlers.Handlers, opts Options) http.Handler {
	root := chi.NewRouter()
	registerRoutes(root, h, opts.CSRF)

	// Middleware (внешний -> внутренний). Оборачивают весь роутер, включая
	// NotFound: edge должен видеть и запросы, уходящие в upstream.
	mws := []middleware.Middleware{
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
	}
	if opts.Timeout > 0 {
		mws = append(mws, middleware.Timeout(opts.Timeout))
	}
	if opts.Edge != nil {
		mws = append(mws, opts.Edge)
	}

	return middleware.Chain(root, mws...)
}

// registerRoutes — единая точка регистрации всех эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, csrf middleware.Middleware) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Get("/session", h.Session)
		r.Get("/csrf", h.CSRF)

		r.Group(func(r chi.Router) {
			if csrf != nil {
				r.Use(csrf)
			}
			r.Post("/logout", h.Logout)
			r.Post("/rotate", h.Rotate)
		})
	})

	// вне /api: query провайдера (code, state) не проходит через сканер угроз.
	r.Get("/oauth/{provider}", h.OAuthStart)
	r.Get("/oauth/{provider}/callback", h.OAuthCallback)

	r.NotFound(h.Upstream)
}
