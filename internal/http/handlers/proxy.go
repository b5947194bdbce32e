package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/pribylovaa/go-storefront-edge/internal/edge"
	apierrors "github.com/pribylovaa/go-storefront-edge/internal/errors"
	logctx "github.com/pribylovaa/go-storefront-edge/internal/pkg/log"
	"github.com/pribylovaa/go-storefront-edge/internal/session"
)

// Заголовки идентичности для upstream. Клиентские копии всегда удаляются.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
)

// NewUpstreamProxy проксирует запросы на рендерер витрины и добавляет
// X-User-Id и X-User-Email из сессии, которую edge положил в контекст.
// Заголовки безопасности из ответа upstream удаляются: их задаёт edge.
func NewUpstreamProxy(rawURL string) (http.Handler, error) {
	const op = "handlers.proxy.NewUpstreamProxy"

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%s: upstream url must be absolute: %q", op, rawURL)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host

			pr.Out.Header.Del(HeaderUserID)
			pr.Out.Header.Del(HeaderUserEmail)
			if sess, ok := session.FromContext(pr.In.Context()); ok {
				pr.Out.Header.Set(HeaderUserID, sess.User.ID.String())
				pr.Out.Header.Set(HeaderUserEmail, sess.User.Email)
			}
		},
		ModifyResponse: func(res *http.Response) error {
			edge.StripSecurityHeaders(res.Header)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			switch {
			case errors.Is(err, context.Canceled):
				apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
				return
			case errors.Is(err, context.DeadlineExceeded):
				logctx.From(r.Context()).Warn("upstream_timeout",
					slog.String("path", r.URL.Path),
				)
				apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
				return
			}

			logctx.From(r.Context()).Error("upstream_failed",
				slog.String("path", r.URL.Path),
				slog.Any("err", err),
			)
			apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, apierrors.ErrUpstream))
		},
	}, nil
}
