package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/go-storefront-edge/internal/errors"
	"github.com/pribylovaa/go-storefront-edge/internal/models"
	logctx "github.com/pribylovaa/go-storefront-edge/internal/pkg/log"
	"github.com/pribylovaa/go-storefront-edge/internal/pkg/redact"
	"github.com/pribylovaa/go-storefront-edge/internal/session"
	"github.com/pribylovaa/go-storefront-edge/internal/storage"
	"github.com/pribylovaa/go-storefront-edge/internal/threat"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse — ответ всех эндпойнтов, выдающих или описывающих сессию.
type sessionResponse struct {
	User      models.Identity `json:"user"`
	CSRFToken string          `json:"csrfToken"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

type csrfResponse struct {
	CSRFToken string `json:"csrfToken"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Register — POST /api/auth/register.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Register"

	if h.accounts == nil {
		apierrors.WriteError(w, r, apierrors.ErrNoRoute)
		return
	}

	var in registerRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	name := threat.General(threat.SanitizeInput(in.Name), h.maxInput)

	user, err := h.accounts.Register(r.Context(), in.Email, in.Password, name)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	logctx.From(r.Context()).Info("user_registered",
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(user.Email)),
	)

	h.startSession(w, r, user, http.StatusCreated)
}

// Login — POST /api/auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Login"

	if h.accounts == nil {
		apierrors.WriteError(w, r, apierrors.ErrNoRoute)
		return
	}

	var in loginRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	user, err := h.accounts.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		logctx.From(r.Context()).Info("login_failed",
			slog.String("email", redact.Email(in.Email)),
		)
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	h.startSession(w, r, user, http.StatusOK)
}

// Logout — POST /api/auth/logout (под RequireCSRF).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearSession(w)
	logctx.From(r.Context()).Info("session_destroyed")
	writeJSON(w, http.StatusOK, statusResponse{Status: "logged_out"})
}

// Session — GET /api/auth/session: текущий пользователь и свежий CSRF-токен.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Session"

	sess, err := h.sessions.RequireAuth(r)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	csrf, err := h.sessions.IssueCSRF(sess)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{User: sess.User, CSRFToken: csrf, ExpiresAt: sess.ExpiresAt})
}

// CSRF — GET /api/auth/csrf.
func (h *Handlers) CSRF(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.CSRF"

	sess, err := h.sessions.RequireAuth(r)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	csrf, err := h.sessions.IssueCSRF(sess)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	writeJSON(w, http.StatusOK, csrfResponse{CSRFToken: csrf})
}

// Rotate — POST /api/auth/rotate (под RequireCSRF).
// Профиль перечитывается из хранилища; удалённый пользователь теряет сессию.
// Без хранилища переносится снимок из текущей сессии.
func (h *Handlers) Rotate(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Rotate"

	sess, err := h.sessions.RequireAuth(r)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	user := sess.User
	if h.accounts != nil {
		user, err = h.accounts.UserByID(r.Context(), sess.User.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				h.sessions.ClearSession(w)
				err = session.ErrUnauthenticated
			}
			apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
			return
		}
	}

	next, err := h.sessions.RotateSession(w, r, user)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	csrf, err := h.sessions.IssueCSRF(next)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{User: next.User, CSRFToken: csrf, ExpiresAt: next.ExpiresAt})
}

func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request, user models.Identity, status int) {
	const op = "handlers.auth.startSession"

	sess, err := h.sessions.CreateSessionResponse(w, user)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	csrf, err := h.sessions.IssueCSRF(sess)
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%s: %w", op, err))
		return
	}

	writeJSON(w, status, sessionResponse{User: sess.User, CSRFToken: csrf, ExpiresAt: sess.ExpiresAt})
}
