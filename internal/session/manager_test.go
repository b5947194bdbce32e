package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-storefront-edge/internal/metrics"
	"github.com/pribylovaa/go-storefront-edge/internal/models"
	"github.com/pribylovaa/go-storefront-edge/internal/token"
)

func newManager(t *testing.T, cookie CookieConfig, opts ...Option) *Manager {
	t.Helper()

	codec, err := token.NewCodec(token.Config{
		SessionSecret: []byte("session-test-secret"),
		CSRFSecret:    []byte("csrf-test-secret"),
		Issuer:        "storefront-edge",
	})
	require.NoError(t, err)

	return NewManager(codec, cookie, opts...)
}

func testUser() models.Identity {
	return models.Identity{ID: uuid.New(), Email: "buyer@example.com", Name: "Buyer"}
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	require.NotNil(t, found, "cookie %q not set", name)

	return found
}

func TestCreateSessionResponse_CookieAttributes(t *testing.T) {
	t.Parallel()

	m := newManager(t, CookieConfig{Secure: true, Domain: "shop.example"})
	rec := httptest.NewRecorder()

	sess, err := m.CreateSessionResponse(rec, testUser())
	require.NoError(t, err)
	require.NotEmpty(t, sess.SessionID)

	c := sessionCookie(t, rec, DefaultCookieName)
	require.NotEmpty(t, c.Value)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.Equal(t, http.SameSiteStrictMode, c.SameSite)
	require.Equal(t, "/", c.Path)
	require.Equal(t, "shop.example", c.Domain)
	require.Equal(t, 604800, c.MaxAge)
}

func TestGetSession_RoundTrip(t *testing.T) {
	t.Parallel()

	m := newManager(t, CookieConfig{})
	user := testUser()

	rec := httptest.NewRecorder()
	issued, err := m.CreateSessionResponse(rec, user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sessionCookie(t, rec, DefaultCookieName))

	got, ok := m.GetSession(req)
	require.True(t, ok)
	require.Equal(t, user, got.User)
	require.Equal(t, issued.SessionID, got.SessionID)
}

func TestGetSession_AbsentOrInvalid(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := newManager(t, CookieConfig{}, WithMetrics(metrics.New(reg)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := m.GetSession(req)
	require.False(t, ok)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "garbage.token.value"})
	_, ok = m.GetSession(req)
	require.False(t, ok)

	_, err := m.RequireAuth(req)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGetSession_ForeignSecretRejected(t *testing.T) {
	t.Parallel()

	other, err := token.NewCodec(token.Config{
		SessionSecret: []byte("attacker-secret"),
		CSRFSecret:    []byte("attacker-csrf"),
		Issuer:        "storefront-edge",
	})
	require.NoError(t, err)
	raw, _, err := other.Issue(testUser())
	require.NoError(t, err)

	m := newManager(t, CookieConfig{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: raw})

	_, ok := m.GetSession(req)
	require.False(t, ok)
}

func TestClearSession_MatchesAttributes(t *testing.T) {
	t.Parallel()

	m := newManager(t, CookieConfig{Name: "shop_session", Secure: true, Domain: "shop.example"})
	rec := httptest.NewRecorder()
	m.ClearSession(rec)

	header := rec.Header().Get("Set-Cookie")
	require.Contains(t, header, "shop_session=;")
	require.Contains(t, header, "Max-Age=0")
	require.Contains(t, header, "Path=/")
	require.Contains(t, header, "Domain=shop.example")
	require.Contains(t, header, "SameSite=Strict")
	require.Contains(t, header, "HttpOnly")
	require.Contains(t, header, "Secure")
}

func TestRotateSession_ReplacesCookie(t *testing.T) {
	t.Parallel()

	m := newManager(t, CookieConfig{})
	user := testUser()

	first := httptest.NewRecorder()
	old, err := m.CreateSessionResponse(first, user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/rotate", nil)
	req.AddCookie(sessionCookie(t, first, DefaultCookieName))

	rec := httptest.NewRecorder()
	m.ClearSession(rec)
	fresh, err := m.RotateSession(rec, req, user)
	require.NoError(t, err)
	require.NotEqual(t, old.SessionID, fresh.SessionID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookies[0])
	got, ok := m.GetSession(next)
	require.True(t, ok)
	require.Equal(t, fresh.SessionID, got.SessionID)
}

func TestVerifyCSRF_HeaderAndForm(t *testing.T) {
	t.Parallel()

	m := newManager(t, CookieConfig{})
	rec := httptest.NewRecorder()
	sess, err := m.CreateSessionResponse(rec, testUser())
	require.NoError(t, err)

	tok, err := m.IssueCSRF(sess)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/cart", nil)
	req.Header.Set(CSRFHeader, tok)
	require.True(t, m.VerifyCSRF(req, sess))

	form := url.Values{CSRFFormField: {tok}}
	req = httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.True(t, m.VerifyCSRF(req, sess))

	req = httptest.NewRequest(http.MethodPost, "/api/cart", nil)
	require.False(t, m.VerifyCSRF(req, sess))

	other := sess
	other.SessionID = "another-session"
	req = httptest.NewRequest(http.MethodPost, "/api/cart", nil)
	req.Header.Set(CSRFHeader, tok)
	require.False(t, m.VerifyCSRF(req, other))
}

func TestContext_RoundTrip(t *testing.T) {
	t.Parallel()

	_, ok := FromContext(context.Background())
	require.False(t, ok)

	sess := models.Session{SessionID: "sid", ExpiresAt: time.Now().Add(time.Hour)}
	got, ok := FromContext(Into(context.Background(), sess))
	require.True(t, ok)
	require.Equal(t, sess.SessionID, got.SessionID)
}
