package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader — заголовок корреляции запросов.
const RequestIDHeader = "X-Request-Id"

type ctxKey struct{}

// maxRequestIDLength ограничивает длину чужого id, попадающего в логи.
const maxRequestIDLength = 128

// RequestID обеспечивает наличие X-Request-Id:
//  1. читает заголовок X-Request-Id, если он есть и не длиннее 128 символов;
//  2. иначе генерирует UUID v4;
//  3. кладёт id в Response Header, Request Header и в контекст.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > maxRequestIDLength {
				id = uuid.NewString()
				// errors.WriteError и upstream читают id из заголовка запроса.
				r.Header.Set(RequestIDHeader, id)
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := context.WithValue(r.Context(), ctxKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFrom возвращает id запроса из контекста.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
