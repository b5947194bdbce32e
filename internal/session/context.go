package session

import (
	"context"

	"github.com/pribylovaa/go-storefront-edge/internal/models"
)

type ctxKey struct{}

// Into кладёт проверенную сессию в контекст запроса.
func Into(ctx context.Context, sess models.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, sess)
}

// FromContext возвращает сессию, положенную edge-политикой.
func FromContext(ctx context.Context) (models.Session, bool) {
	sess, ok := ctx.Value(ctxKey{}).(models.Session)
	return sess, ok
}
