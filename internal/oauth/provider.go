// oauth — вход через внешних OIDC-провайдеров (Google).
// Провайдер только подтверждает личность: пользователя находит или создаёт
// service.EnsureUser, а сессию выпускает session.Manager.
package oauth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

var (
	// ErrEmailNotVerified — провайдер не подтвердил email пользователя.
	ErrEmailNotVerified = errors.New("oauth email is not verified")
	// ErrExchange — обмен кода или проверка id_token не удались.
	ErrExchange = errors.New("oauth exchange failed")
)

// Claims — проверенные данные пользователя от провайдера.
type Claims struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// Provider — OAuth2/OIDC провайдер с обязательным PKCE (S256).
type Provider interface {
	// Name — идентификатор провайдера в URL (/oauth/{name}).
	Name() string
	// AuthCodeURL строит ссылку на страницу согласия со state и code_challenge от verifier.
	AuthCodeURL(state, verifier string) string
	// Exchange меняет код на проверенные claims; verifier должен совпасть с AuthCodeURL.
	Exchange(ctx context.Context, code, verifier string) (*Claims, error)
}

// NewState возвращает случайные state и PKCE code_verifier.
func NewState() (state, verifier string) {
	return oauth2.GenerateVerifier(), oauth2.GenerateVerifier()
}
