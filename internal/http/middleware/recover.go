package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/pribylovaa/go-storefront-edge/internal/errors"
	logctx "github.com/pribylovaa/go-storefront-edge/internal/pkg/log"
)

var errPanic = errors.New("panic")

// Recover перехватывает panic, конвертирует в 500/internal и пишет унифицированный ответ.
// Детали паники не утекают на клиент.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// штатный способ прервать ответ в net/http.
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logctx.From(r.Context()).
					LogAttrs(r.Context(), slog.LevelError, "panic",
						slog.String("path", r.URL.Path),
						slog.Any("reason", rec),
					)
				apierrors.WriteError(w, r, errPanic)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
