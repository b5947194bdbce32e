package handlers

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/pribylovaa/go-storefront-edge/internal/errors"
	"github.com/pribylovaa/go-storefront-edge/internal/oauth"
	logctx "github.com/pribylovaa/go-storefront-edge/internal/pkg/log"
	"github.com/pribylovaa/go-storefront-edge/internal/pkg/redact"
)

const (
	oauthStateCookie = "storefront_oauth_state"
	oauthStateMaxAge = 600
)

// oauthState — содержимое cookie на время похода к провайдеру.
type oauthState struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
	Redirect string `json:"redirect,omitempty"`
}

// OAuthStart — GET /oauth/{provider}: state и PKCE в cookie, редирект на провайдера.
func (h *Handlers) OAuthStart(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[chi.URLParam(r, "provider")]
	if !ok || h.accounts == nil {
		apierrors.WriteError(w, r, apierrors.ErrNoRoute)
		return
	}

	state, verifier := oauth.NewState()
	payload, _ := json.Marshal(oauthState{
		State:    state,
		Verifier: verifier,
		Redirect: safeRedirect(r.URL.Query().Get("redirect"), h.home),
	})
	h.setStateCookie(w, base64.RawURLEncoding.EncodeToString(payload), oauthStateMaxAge)

	http.Redirect(w, r, provider.AuthCodeURL(state, verifier), http.StatusFound)
}

// OAuthCallback — GET /oauth/{provider}/callback.
// Cookie со state одноразовая: удаляется до любых проверок.
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.oauth.OAuthCallback"

	provider, ok := h.providers[chi.URLParam(r, "provider")]
	if !ok || h.accounts == nil {
		apierrors.WriteError(w, r, apierrors.ErrNoRoute)
		return
	}

	c, err := r.Cookie(oauthStateCookie)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, apierrors.ErrOAuthState))
		return
	}
	h.setStateCookie(w, "", -1)

	st, err := decodeState(c.Value)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, apierrors.ErrOAuthState))
		return
	}

	q := r.URL.Query()
	if subtle.ConstantTimeCompare([]byte(st.State), []byte(q.Get("state"))) != 1 {
		logctx.From(r.Context()).Warn("oauth_state_mismatch", slog.String("provider", provider.Name()))
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, apierrors.ErrOAuthState))
		return
	}

	if q.Get("code") == "" {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w: %s", op, oauth.ErrExchange, q.Get("error")))
		return
	}

	claims, err := provider.Exchange(r.Context(), q.Get("code"), st.Verifier)
	if err != nil {
		logctx.From(r.Context()).Warn("oauth_exchange_failed",
			slog.String("provider", provider.Name()),
			slog.Any("err", err),
		)
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	user, err := h.accounts.EnsureUser(r.Context(), claims.Email, claims.Name, claims.Picture)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	if _, err := h.sessions.CreateSessionResponse(w, user); err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	logctx.From(r.Context()).Info("oauth_login",
		slog.String("provider", provider.Name()),
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(user.Email)),
	)

	http.Redirect(w, r, safeRedirect(st.Redirect, h.home), http.StatusFound)
}

func (h *Handlers) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/oauth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		// Strict не переживёт возврат с домена провайдера.
		SameSite: http.SameSiteLaxMode,
	})
}

func decodeState(raw string) (oauthState, error) {
	var st oauthState

	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, err
	}
	if st.State == "" || st.Verifier == "" {
		return st, apierrors.ErrOAuthState
	}

	return st, nil
}

// safeRedirect допускает только локальные пути. Обратный слэш и управляющие
// символы (сырые или %-кодированные) отклоняются: браузер читает "/\host"
// и "/<TAB>/host" как "//host". Путь нормализуется до выдачи в Location.
func safeRedirect(target, fallback string) string {
	if !strings.HasPrefix(target, "/") || unsafeRedirectPath(target) {
		return fallback
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil || unsafeRedirectPath(u.Path) {
		return fallback
	}

	u.Path = path.Clean(u.Path)
	u.RawPath = ""

	out := u.String()
	if !strings.HasPrefix(out, "/") || strings.HasPrefix(out, "//") {
		return fallback
	}

	return out
}

func unsafeRedirectPath(s string) bool {
	return strings.ContainsRune(s, '\\') || strings.IndexFunc(s, unicode.IsControl) >= 0
}
