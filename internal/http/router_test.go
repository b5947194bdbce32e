package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-storefront-edge/internal/config"
	"github.com/pribylovaa/go-storefront-edge/internal/edge"
	"github.com/pribylovaa/go-storefront-edge/internal/http/handlers"
	"github.com/pribylovaa/go-storefront-edge/internal/http/middleware"
	"github.com/pribylovaa/go-storefront-edge/internal/metrics"
	"github.com/pribylovaa/go-storefront-edge/internal/models"
	"github.com/pribylovaa/go-storefront-edge/internal/ratelimit"
	"github.com/pribylovaa/go-storefront-edge/internal/session"
	"github.com/pribylovaa/go-storefront-edge/internal/token"
)

type stack struct {
	srv      *httptest.Server
	sessions *session.Manager
	// upstreamUser — X-User-Id последнего запроса, дошедшего до upstream.
	upstreamUser chan string
}

func newStack(t *testing.T) *stack {
	t.Helper()

	upstreamUser := make(chan string, 16)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamUser <- r.Header.Get(handlers.HeaderUserID)
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Security-Policy", "default-src *")
		_, _ = io.WriteString(w, "page")
	}))
	t.Cleanup(upstream.Close)

	codec, err := token.NewCodec(token.Config{
		SessionSecret: []byte("router-session-secret"),
		CSRFSecret:    []byte("router-csrf-secret"),
	})
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	sessions := session.NewManager(codec, session.CookieConfig{}, session.WithMetrics(m))

	proxy, err := handlers.NewUpstreamProxy(upstream.URL)
	require.NoError(t, err)
	h := handlers.New(nil, sessions, handlers.WithUpstream(proxy))

	policy := edge.New(edge.Deps{
		Sessions: sessions,
		Limiter:  ratelimit.NewMemoryLimiter(),
		Admins:   config.ParseAdminSet("boss@example.com"),
		Paths:    edge.DefaultPaths(),
		Metrics:  m,
	})

	router := NewRouter(h, Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout: 5 * time.Second,
		Edge:    policy.Middleware(),
		CSRF:    middleware.RequireCSRF(sessions),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &stack{srv: srv, sessions: sessions, upstreamUser: upstreamUser}
}

func (s *stack) sessionCookie(t *testing.T, email string) (*http.Cookie, models.Identity) {
	t.Helper()

	user := models.Identity{ID: uuid.New(), Email: email}
	rr := httptest.NewRecorder()
	_, err := s.sessions.CreateSessionResponse(rr, user)
	require.NoError(t, err)

	for _, c := range rr.Result().Cookies() {
		if c.Name == session.DefaultCookieName {
			return c, user
		}
	}
	t.Fatal("session cookie not set")
	return nil, user
}

func (s *stack) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func (s *stack) newRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()

	req, err := http.NewRequest(method, s.srv.URL+path, nil)
	require.NoError(t, err)
	// отдельный бюджет лимитера на тест.
	req.Header.Set("X-Forwarded-For", uuid.NewString())

	return req
}

func TestRouter_ProxiesWithSecurityHeaders(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	resp := s.do(t, s.newRequest(t, http.MethodGet, "/products"))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	require.Equal(t, []string{"DENY"}, resp.Header.Values("X-Frame-Options"))
	require.Len(t, resp.Header.Values("Content-Security-Policy"), 1)
	require.Contains(t, resp.Header.Get("Content-Security-Policy"), "frame-ancestors 'none'")
	require.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	require.Equal(t, "100", resp.Header.Get("X-RateLimit-Limit"))
	require.Empty(t, <-s.upstreamUser)
}

func TestRouter_ProtectedPageRedirectsToLogin(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	resp := s.do(t, s.newRequest(t, http.MethodGet, "/account?tab=orders"))

	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	require.Equal(t, "/auth/login?redirect=%2Faccount%3Ftab%3Dorders", resp.Header.Get("Location"))
}

func TestRouter_AuthenticatedReachesUpstreamWithIdentity(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	cookie, user := s.sessionCookie(t, "ann@example.com")

	req := s.newRequest(t, http.MethodGet, "/account")
	req.AddCookie(cookie)
	resp := s.do(t, req)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, user.ID.String(), <-s.upstreamUser)
}

func TestRouter_ThreatInAPIQuery(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	resp := s.do(t, s.newRequest(t, http.MethodGet, "/api/products?q=%3Cscript%3Ealert(1)%3C%2Fscript%3E"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "Invalid input detected", body.Message)
}

func TestRouter_MalformedAPIQueryDenied(t *testing.T) {
	t.Parallel()

	s := newStack(t)

	for _, target := range []string{
		"/api/products?q=x';DROP%20TABLE%20users;--",
		"/api/products?q=%3Cscript%3Ealert(1)%3C/script%3E%zz",
	} {
		resp := s.do(t, s.newRequest(t, http.MethodGet, target))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, target)
	}

	// Вне API тот же query уходит в upstream как есть.
	resp := s.do(t, s.newRequest(t, http.MethodGet, "/search?q=x';DROP%20TABLE%20users;--"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	<-s.upstreamUser
}

func TestRouter_LogoutRequiresCSRF(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	cookie, _ := s.sessionCookie(t, "ann@example.com")
	ip := uuid.NewString()

	req := s.newRequest(t, http.MethodPost, "/api/auth/logout")
	req.Header.Set("X-Forwarded-For", ip)
	req.AddCookie(cookie)
	resp := s.do(t, req)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req = s.newRequest(t, http.MethodGet, "/api/auth/csrf")
	req.Header.Set("X-Forwarded-For", ip)
	req.AddCookie(cookie)
	resp = s.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var csrf struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&csrf))

	req = s.newRequest(t, http.MethodPost, "/api/auth/logout")
	req.Header.Set("X-Forwarded-For", ip)
	req.Header.Set(session.CSRFHeader, csrf.CSRFToken)
	req.AddCookie(cookie)
	resp = s.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_AuthRateLimit(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	ip := uuid.NewString()

	for i := 0; i < ratelimit.Auth.Points; i++ {
		req := s.newRequest(t, http.MethodGet, "/api/auth/session")
		req.Header.Set("X-Forwarded-For", ip)
		require.Equal(t, http.StatusUnauthorized, s.do(t, req).StatusCode)
	}

	req := s.newRequest(t, http.MethodGet, "/api/auth/session")
	req.Header.Set("X-Forwarded-For", ip)
	resp := s.do(t, req)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRouter_AdminForNonAdminRedirectsHome(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	cookie, _ := s.sessionCookie(t, "ann@example.com")

	req := s.newRequest(t, http.MethodGet, "/admin/orders")
	req.AddCookie(cookie)
	resp := s.do(t, req)
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))

	admin, _ := s.sessionCookie(t, "boss@example.com")
	req = s.newRequest(t, http.MethodGet, "/admin/orders")
	req.AddCookie(admin)
	resp = s.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	<-s.upstreamUser
}
