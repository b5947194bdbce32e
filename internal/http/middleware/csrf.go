package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/pribylovaa/go-storefront-edge/internal/errors"
	"github.com/pribylovaa/go-storefront-edge/internal/models"
	logctx "github.com/pribylovaa/go-storefront-edge/internal/pkg/log"
	"github.com/pribylovaa/go-storefront-edge/internal/session"
)

// CSRFVerifier — часть session.Manager, нужная RequireCSRF.
type CSRFVerifier interface {
	RequireAuth(r *http.Request) (models.Session, error)
	VerifyCSRF(r *http.Request, sess models.Session) bool
}

// RequireCSRF пропускает изменяющие запросы только с действующей сессией
// и CSRF-токеном этой сессии (заголовок X-CSRF-Token или поле _csrf).
// GET, HEAD и OPTIONS проходят без проверки.
func RequireCSRF(v CSRFVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.csrf.RequireCSRF"

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			sess, ok := session.FromContext(r.Context())
			if !ok {
				var err error
				sess, err = v.RequireAuth(r)
				if err != nil {
					apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
					return
				}
				r = r.WithContext(session.Into(r.Context(), sess))
			}

			if !v.VerifyCSRF(r, sess) {
				logctx.From(r.Context()).Warn("csrf_mismatch",
					slog.String("path", r.URL.Path),
					slog.String("user_id", sess.User.ID.String()),
				)
				apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, session.ErrCSRFMismatch))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
