// errors стандартизирует ответы об ошибках HTTP-слоя edge.
// На вход принимает ошибку (доменную sentinel-ошибку или gRPC-статус),
// на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное message без утечки деталей.
//
// Доменные ошибки сначала сводятся к gRPC-коду, а HTTP-статус берётся
// из той же таблицы baseFromGRPC, что и для статусов от внутренних сервисов.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/go-storefront-edge/internal/oauth"
	"github.com/pribylovaa/go-storefront-edge/internal/service"
	"github.com/pribylovaa/go-storefront-edge/internal/session"
	"github.com/pribylovaa/go-storefront-edge/internal/storage"
	"github.com/pribylovaa/go-storefront-edge/internal/token"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

var (
	// ErrBadRequest — тело запроса не разобрано.
	ErrBadRequest = stderrors.New("bad request")
	// ErrNoRoute — маршрут не обслуживается (нет upstream, OAuth выключен).
	ErrNoRoute = stderrors.New("no route")
	// ErrUpstream — upstream недоступен или вернул транспортную ошибку.
	ErrUpstream = stderrors.New("upstream failure")
	// ErrOAuthState — state/PKCE из cookie не совпал с callback.
	ErrOAuthState = stderrors.New("invalid oauth state")
)

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type domainMapping struct {
	target  error
	code    codes.Code
	apiCode string
	message string
	// status переопределяет HTTP-статус из baseFromGRPC, если не 0.
	status int
}

var domain = []domainMapping{
	{target: service.ErrInvalidCredentials, code: codes.Unauthenticated, apiCode: "invalid_credentials", message: "invalid email or password"},
	{target: service.ErrEmailTaken, code: codes.AlreadyExists, apiCode: "email_taken", message: "email already taken"},
	{target: service.ErrInvalidEmail, code: codes.InvalidArgument, apiCode: "invalid_email", message: "invalid email format"},
	{target: service.ErrWeakPassword, code: codes.InvalidArgument, apiCode: "weak_password", message: "password must be at least 8 characters and contain a letter and a digit"},
	{target: session.ErrCSRFMismatch, code: codes.PermissionDenied, apiCode: "csrf_mismatch", message: "invalid csrf token"},
	{target: session.ErrUnauthenticated, code: codes.Unauthenticated},
	{target: token.ErrInvalidToken, code: codes.Unauthenticated},
	{target: storage.ErrNotFound, code: codes.NotFound},
	{target: storage.ErrAlreadyExists, code: codes.AlreadyExists},
	{target: ErrBadRequest, code: codes.InvalidArgument, message: "invalid request body"},
	{target: ErrOAuthState, code: codes.InvalidArgument, apiCode: "invalid_oauth_state", message: "invalid oauth state"},
	{target: oauth.ErrEmailNotVerified, code: codes.Unauthenticated, apiCode: "oauth_email_unverified", message: "oauth account email is not verified"},
	{target: oauth.ErrExchange, code: codes.Unauthenticated, apiCode: "oauth_failed", message: "oauth authentication failed"},
	{target: ErrNoRoute, code: codes.NotFound},
	{target: ErrUpstream, code: codes.Unavailable, apiCode: "bad_gateway", message: "upstream unavailable", status: http.StatusBadGateway},
	{target: context.Canceled, code: codes.Canceled},
	{target: context.DeadlineExceeded, code: codes.DeadlineExceeded},
}

// ToHTTP конвертирует ошибку в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil - программная ошибка вызова: 500/internal;
//   - известная доменная ошибка (errors.Is по цепочке) - код из таблицы domain;
//   - gRPC-статус - маппинг через baseFromGRPC();
//   - прочее - 500/internal без деталей.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return internal()
	}

	for _, m := range domain {
		if !stderrors.Is(err, m.target) {
			continue
		}

		httpStatus, code, msg := baseFromGRPC(m.code)
		if m.status != 0 {
			httpStatus = m.status
		}
		if m.apiCode != "" {
			code = m.apiCode
		}
		if m.message != "" {
			msg = m.message
		}

		return httpStatus, ErrorResponse{Error: APIError{Code: code, Message: msg}}
	}

	st, ok := status.FromError(err)
	if !ok {
		return internal()
	}

	httpStatus, code, msg := baseFromGRPC(st.Code())
	return httpStatus, ErrorResponse{
		Error: APIError{
			Code:    code,
			Message: msg,
		},
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет статус и тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func internal() (int, ErrorResponse) {
	return http.StatusInternalServerError, ErrorResponse{
		Error: APIError{
			Code:    "internal",
			Message: "internal error",
		},
	}
}

// baseFromGRPC — базовый маппинг gRPC -> HTTP/FE-код/сообщение.
//   - InvalidArgument -> 400
//   - NotFound -> 404
//   - AlreadyExists -> 409
//   - FailedPrecondition -> 412
//   - Unauthenticated -> 401
//   - PermissionDenied -> 403 (в том числе CSRF)
//   - ResourceExhausted -> 429
//   - Aborted -> 409
//   - Canceled -> 499
//   - DeadlineExceeded -> 504
//   - Unavailable -> 503
//   - Unimplemented -> 501
//   - прочее -> 500/internal
func baseFromGRPC(c codes.Code) (int, string, string) {
	switch c {
	case codes.InvalidArgument:
		return http.StatusBadRequest, "invalid_argument", "invalid argument"
	case codes.NotFound:
		return http.StatusNotFound, "not_found", "not found"
	case codes.AlreadyExists:
		return http.StatusConflict, "already_exists", "already exists"
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed, "failed_precondition", "failed precondition"
	case codes.Unauthenticated:
		return http.StatusUnauthorized, "unauthenticated", "unauthenticated"
	case codes.PermissionDenied:
		return http.StatusForbidden, "permission_denied", "permission denied"
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests, "resource_exhausted", "resource exhausted"
	case codes.Aborted:
		return http.StatusConflict, "aborted", "aborted"
	case codes.Canceled:
		return StatusClientClosedRequest, "canceled", "canceled"
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"
	case codes.Unavailable:
		return http.StatusServiceUnavailable, "unavailable", "service unavailable"
	case codes.Unimplemented:
		return http.StatusNotImplemented, "unimplemented", "unimplemented"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
