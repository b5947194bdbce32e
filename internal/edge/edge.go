// edge — политика, выполняемая для каждого запроса до обработчиков.
//
// Шаги (первый сработавший завершает запрос):
//  1. заголовки безопасности (их несёт любой выход);
//  2. CORS preflight — 204;
//  3. rate limit по классу пути — 429;
//  4. для API-путей скан query-параметров — 400;
//  5. разрешение сессии из cookie в контекст;
//  6. аутентифицированный на странице входа/регистрации — редирект на Home;
//  7. защищённый путь без сессии — редирект на вход с ?redirect=;
//  8. /admin: без сессии — вход, email не из списка админов — Home;
//  9. иначе запрос уходит дальше без изменений.
//
// Паника внутри политики даёт 500 с JSON-телом; запрос дальше не идёт.
package edge

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/cors"

	"github.com/pribylovaa/go-storefront-edge/internal/metrics"
	"github.com/pribylovaa/go-storefront-edge/internal/models"
	logctx "github.com/pribylovaa/go-storefront-edge/internal/pkg/log"
	"github.com/pribylovaa/go-storefront-edge/internal/pkg/redact"
	"github.com/pribylovaa/go-storefront-edge/internal/ratelimit"
	"github.com/pribylovaa/go-storefront-edge/internal/session"
	"github.com/pribylovaa/go-storefront-edge/internal/threat"
)

// SessionResolver — источник сессии запроса (session.Manager).
type SessionResolver interface {
	GetSession(r *http.Request) (models.Session, bool)
}

// AdminList — множество администраторов (config.AdminSet).
type AdminList interface {
	Contains(email string) bool
}

type Deps struct {
	Sessions SessionResolver
	Limiter  ratelimit.Limiter
	Detector threat.Detector
	Admins   AdminList
	CORS     CORSConfig
	Paths    Paths
	Metrics  *metrics.Edge
}

type Policy struct {
	sessions SessionResolver
	limiter  ratelimit.Limiter
	detector threat.Detector
	admins   AdminList
	cors     *cors.Cors
	paths    Paths
	metrics  *metrics.Edge
}

// New собирает политику. Detector по умолчанию — threat.PatternDetector.
func New(d Deps) *Policy {
	if d.Detector == nil {
		d.Detector = threat.PatternDetector{}
	}

	return &Policy{
		sessions: d.Sessions,
		limiter:  d.Limiter,
		detector: d.Detector,
		admins:   d.Admins,
		cors:     d.CORS.withDefaults().handler(),
		paths:    d.Paths.withDefaults(),
		metrics:  d.Metrics,
	}
}

// Middleware возвращает обёртку для роутера.
func (p *Policy) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := p.cors.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, done := p.guard(w, r)
			if done {
				return
			}

			next.ServeHTTP(w, req)
		}))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetSecurityHeaders(w.Header())
			guarded.ServeHTTP(w, r)
		})
	}
}

// guard выполняет шаги политики. done == true — ответ уже записан.
func (p *Policy) guard(w http.ResponseWriter, r *http.Request) (req *http.Request, done bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logctx.From(r.Context()).Error("edge_panic",
				slog.String("path", r.URL.Path),
				slog.String("panic", fmt.Sprint(rec)),
			)
			writeJSON(w, http.StatusInternalServerError, denial{
				Error:   "Internal Server Error",
				Message: "An unexpected error occurred",
			})
			req, done = nil, true
		}
	}()

	log := logctx.From(r.Context())
	path := r.URL.Path

	// 1. CORS: заголовки уже выставил cors.Handler.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return nil, true
	}

	// 2. Rate limit.
	policy := ratelimit.PolicyFor(path)
	key := ratelimit.ClientKey(r)

	res, err := p.limiter.Consume(r.Context(), key, policy)
	if err != nil {
		log.Error("rate_limiter_failed",
			slog.String("policy", policy.Name),
			slog.String("err", err.Error()),
		)
		writeJSON(w, http.StatusServiceUnavailable, denial{
			Error:   "Service Unavailable",
			Message: "Please try again later",
		})
		return nil, true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Points))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

	if !res.Allowed {
		retry := retryAfterSeconds(res.RetryAfter)

		p.metrics.RateLimited(policy.Name)
		log.Debug("rate_limited",
			slog.String("policy", policy.Name),
			slog.String("key", key),
			slog.Int("retry_after", retry),
		)

		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.Header().Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
		writeJSON(w, http.StatusTooManyRequests, denial{
			Error:      "Too Many Requests",
			Message:    "Rate limit exceeded. Please try again later.",
			RetryAfter: retry,
		})
		return nil, true
	}

	// 3. Скан ввода для API.
	if p.paths.isAPI(path) {
		if f, hit := threat.ScanQuery(p.detector, r.URL.RawQuery); hit {
			p.metrics.ThreatDetected(f.Kind)
			log.Warn("threat_detected",
				slog.String("kind", f.Kind),
				slog.String("param", f.Param),
				slog.String("payload", redact.Payload(f.Value)),
				slog.String("key", key),
				slog.String("path", path),
			)
			writeJSON(w, http.StatusBadRequest, denial{
				Error:   "Bad Request",
				Message: "Invalid input detected",
			})
			return nil, true
		}
	}

	// 4. Сессия.
	sess, authenticated := p.sessions.GetSession(r)
	if authenticated {
		r = r.WithContext(session.Into(r.Context(), sess))
	}

	// 5. Страницы входа для уже вошедших.
	if authenticated && p.paths.isAuthPage(path) {
		p.redirect(w, r, p.paths.Home, "authenticated_auth_page")
		return nil, true
	}

	// 6. Защищённые маршруты.
	if !authenticated && p.paths.isProtected(path) {
		p.redirect(w, r, p.paths.loginURL(r.URL.RequestURI()), "login_required")
		return nil, true
	}

	// 7. Админка.
	if p.paths.isAdmin(path) {
		if !authenticated {
			p.redirect(w, r, p.paths.loginURL(r.URL.RequestURI()), "login_required")
			return nil, true
		}
		if p.admins == nil || !p.admins.Contains(sess.User.Email) {
			log.Warn("admin_access_denied",
				slog.String("user_id", sess.User.ID.String()),
				slog.String("email", redact.Email(sess.User.Email)),
				slog.String("path", path),
			)
			p.redirect(w, r, p.paths.Home, "admin_forbidden")
			return nil, true
		}
	}

	return r, false
}

func (p *Policy) redirect(w http.ResponseWriter, r *http.Request, to, reason string) {
	p.metrics.Redirected(reason)
	logctx.From(r.Context()).Debug("edge_redirect",
		slog.String("reason", reason),
		slog.String("path", r.URL.Path),
	)
	redirect(w, r, to)
}

// retryAfterSeconds округляет вверх; не меньше 1.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
