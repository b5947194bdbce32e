// session — жизненный цикл сессии поверх cookie: выпуск, чтение,
// удаление, ротация и CSRF-проверка для мутирующих запросов.
//
// Manager никогда не возвращает ошибку из GetSession: любой сбой проверки
// токена означает «не аутентифицирован» (fail closed).
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/go-storefront-edge/internal/metrics"
	"github.com/pribylovaa/go-storefront-edge/internal/models"
	logctx "github.com/pribylovaa/go-storefront-edge/internal/pkg/log"
	"github.com/pribylovaa/go-storefront-edge/internal/pkg/redact"
)

const (
	DefaultCookieName = "storefront_session"

	// CSRFHeader — заголовок с CSRF-токеном; CSRFFormField — запасной вариант для форм.
	CSRFHeader    = "X-CSRF-Token"
	CSRFFormField = "_csrf"
)

var (
	// ErrUnauthenticated — действительной сессии нет.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrCSRFMismatch — CSRF-токен отсутствует, просрочен или выпущен для другой сессии.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
)

// Codec — то, что Manager требует от кодека токенов.
type Codec interface {
	Issue(user models.Identity) (string, models.Session, error)
	Verify(raw string) (models.Session, error)
	IssueCSRF(sess models.Session) (string, error)
	VerifyCSRF(raw string, sess models.Session) bool
	SessionTTL() time.Duration
}

// CookieConfig — атрибуты сессионной cookie.
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
}

type Manager struct {
	codec   Codec
	cookie  CookieConfig
	metrics *metrics.Edge
}

// Option настраивает Manager.
type Option func(*Manager)

// WithMetrics включает счётчик неудачных проверок токена.
func WithMetrics(m *metrics.Edge) Option {
	return func(mg *Manager) { mg.metrics = m }
}

func NewManager(codec Codec, cookie CookieConfig, opts ...Option) *Manager {
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}

	m := &Manager{codec: codec, cookie: cookie}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CookieName возвращает имя сессионной cookie.
func (m *Manager) CookieName() string { return m.cookie.Name }

// CreateSessionResponse выпускает токен и добавляет Set-Cookie в ответ.
func (m *Manager) CreateSessionResponse(w http.ResponseWriter, user models.Identity) (models.Session, error) {
	const op = "session.manager.CreateSessionResponse"

	raw, sess, err := m.codec.Issue(user)
	if err != nil {
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	http.SetCookie(w, m.newCookie(raw, int(m.codec.SessionTTL()/time.Second)))

	return sess, nil
}

// GetSession читает и проверяет cookie. Отсутствие cookie и любой сбой
// проверки дают false; сбой логируется на Debug с причиной.
func (m *Manager) GetSession(r *http.Request) (models.Session, bool) {
	c, err := r.Cookie(m.cookie.Name)
	if err != nil || c.Value == "" {
		return models.Session{}, false
	}

	sess, err := m.codec.Verify(c.Value)
	if err != nil {
		m.metrics.SessionVerifyFailed()
		logctx.From(r.Context()).Debug("session_verify_failed",
			slog.String("token", redact.Token()),
			slog.String("err", err.Error()),
		)

		return models.Session{}, false
	}

	return sess, true
}

// ClearSession перезаписывает cookie пустым значением с Max-Age=0 и теми же
// Path/Domain/SameSite, иначе браузер её не удалит.
func (m *Manager) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, m.newCookie("", -1))
}

// RequireAuth — как GetSession, но отсутствие сессии выражено ошибкой.
func (m *Manager) RequireAuth(r *http.Request) (models.Session, error) {
	const op = "session.manager.RequireAuth"

	sess, ok := m.GetSession(r)
	if !ok {
		return models.Session{}, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	return sess, nil
}

// RotateSession заменяет текущую сессию новой (например, после смены прав).
// Новый токен выпускается до изменения ответа: при ошибке старая cookie
// остаётся нетронутой. Заголовок Set-Cookie для имени сессии в ответе один,
// с новым значением.
func (m *Manager) RotateSession(w http.ResponseWriter, r *http.Request, user models.Identity) (models.Session, error) {
	const op = "session.manager.RotateSession"

	raw, sess, err := m.codec.Issue(user)
	if err != nil {
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	m.dropSessionCookies(w)
	http.SetCookie(w, m.newCookie(raw, int(m.codec.SessionTTL()/time.Second)))

	_, hadSession := m.GetSession(r)
	logctx.From(r.Context()).Info("session_rotated",
		slog.String("user_id", sess.User.ID.String()),
		slog.Bool("had_session", hadSession),
	)

	return sess, nil
}

// IssueCSRF выпускает CSRF-токен для сессии.
func (m *Manager) IssueCSRF(sess models.Session) (string, error) {
	const op = "session.manager.IssueCSRF"

	tok, err := m.codec.IssueCSRF(sess)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return tok, nil
}

// VerifyCSRF берёт токен из X-CSRF-Token, иначе из поля формы _csrf.
func (m *Manager) VerifyCSRF(r *http.Request, sess models.Session) bool {
	raw := r.Header.Get(CSRFHeader)
	if raw == "" {
		raw = r.PostFormValue(CSRFFormField)
	}

	return m.codec.VerifyCSRF(raw, sess)
}

func (m *Manager) newCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookie.Name,
		Value:    value,
		Path:     "/",
		Domain:   m.cookie.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// dropSessionCookies убирает из ответа ранее добавленные Set-Cookie с именем сессии.
func (m *Manager) dropSessionCookies(w http.ResponseWriter) {
	h := w.Header()
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		c, err := http.ParseSetCookie(v)
		if err == nil && c.Name == m.cookie.Name {
			continue
		}
		kept = append(kept, v)
	}

	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
}
