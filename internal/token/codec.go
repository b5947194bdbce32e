// token выпускает и проверяет подписанные сессионные и CSRF-токены (JWT HS256).
//
// Основные аспекты:
//   - сессионный токен несёт снимок пользователя, идентификатор выпуска (jti)
//     и случайный CSRF-секрет, подписывается SessionSecret;
//   - CSRF-токен короткоживущий, несёт только идентификатор сессии и
//     подписывается отдельным CSRFSecret;
//   - любые отказы проверки (подпись, формат, срок, отсутствующие поля)
//     сводятся к ErrInvalidToken: вызывающий не различает причины.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-storefront-edge/internal/models"
)

const (
	// DefaultSessionTTL — фиксированный срок жизни сессии.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// DefaultCSRFTTL — срок жизни отдельного CSRF-токена.
	DefaultCSRFTTL = time.Hour

	sessionIDBytes  = 32
	csrfSecretBytes = 32
	csrfAudience    = "csrf"
)

var (
	// ErrInvalidToken — токен не прошёл проверку по любой причине.
	ErrInvalidToken = errors.New("invalid token")

	// ErrEmptySecret — не задан один из ключей подписи.
	ErrEmptySecret = errors.New("empty signing secret")
)

// Config — параметры выпуска и проверки токенов.
type Config struct {
	SessionSecret []byte
	CSRFSecret    []byte
	SessionTTL    time.Duration
	CSRFTTL       time.Duration
	Issuer        string
}

// Option настраивает Codec.
type Option func(*Codec)

// WithClock подменяет источник времени (нужно тестам на истечение срока).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// Codec подписывает и проверяет токены. Безопасен для конкурентного использования.
type Codec struct {
	cfg           Config
	now           func() time.Time
	sessionParser *jwt.Parser
	csrfParser    *jwt.Parser
}

type userClaims struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Handle string `json:"handle,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type sessionClaims struct {
	User *userClaims `json:"user,omitempty"`
	CSRF string      `json:"csrf,omitempty"`
	jwt.RegisteredClaims
}

type csrfClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// NewCodec создаёт Codec. Нулевые TTL заменяются значениями по умолчанию.
func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	const op = "token.NewCodec"

	if len(cfg.SessionSecret) == 0 || len(cfg.CSRFSecret) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptySecret)
	}

	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.CSRFTTL <= 0 {
		cfg.CSRFTTL = DefaultCSRFTTL
	}

	c := &Codec{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	base := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	}
	if cfg.Issuer != "" {
		base = append(base, jwt.WithIssuer(cfg.Issuer))
	}

	c.sessionParser = jwt.NewParser(base...)
	c.csrfParser = jwt.NewParser(append(base, jwt.WithAudience(csrfAudience))...)

	return c, nil
}

// SessionTTL возвращает срок жизни сессии (для Max-Age cookie).
func (c *Codec) SessionTTL() time.Duration { return c.cfg.SessionTTL }

// Issue выпускает сессионный токен для пользователя.
// ExpiresAt = IssuedAt + SessionTTL; время усечено до секунд (точность NumericDate).
func (c *Codec) Issue(user models.Identity) (string, models.Session, error) {
	const op = "token.Issue"

	sid, err := randomHex(sessionIDBytes)
	if err != nil {
		return "", models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	secret, err := randomBase64(csrfSecretBytes)
	if err != nil {
		return "", models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	issuedAt := c.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(c.cfg.SessionTTL)

	claims := sessionClaims{
		User: &userClaims{
			ID:     user.ID.String(),
			Email:  user.Email,
			Name:   user.Name,
			Handle: user.Handle,
			Avatar: user.Avatar,
		},
		CSRF: secret,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sid,
			Subject:   user.ID.String(),
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.SessionSecret)
	if err != nil {
		return "", models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, models.Session{
		User:       user,
		SessionID:  sid,
		CSRFSecret: secret,
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
	}, nil
}

// Verify проверяет подпись, срок и обязательные поля сессионного токена.
// Причина отказа попадает только в текст ошибки (для логов); errors.Is
// различает лишь ErrInvalidToken.
func (c *Codec) Verify(raw string) (models.Session, error) {
	const op = "token.Verify"

	var claims sessionClaims
	_, err := c.sessionParser.ParseWithClaims(raw, &claims, keyFunc(c.cfg.SessionSecret))
	if err != nil {
		return models.Session{}, invalid(op, reason(err))
	}

	if claims.User == nil || claims.User.ID == "" || claims.ID == "" || claims.CSRF == "" || claims.ExpiresAt == nil {
		return models.Session{}, invalid(op, "missing_claims")
	}

	uid, err := uuid.Parse(claims.User.ID)
	if err != nil {
		return models.Session{}, invalid(op, "bad_user_id")
	}

	sess := models.Session{
		User: models.Identity{
			ID:     uid,
			Email:  claims.User.Email,
			Name:   claims.User.Name,
			Handle: claims.User.Handle,
			Avatar: claims.User.Avatar,
		},
		SessionID:  claims.ID,
		CSRFSecret: claims.CSRF,
		ExpiresAt:  claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if sess.Expired(c.now()) {
		return models.Session{}, invalid(op, "expired")
	}

	return sess, nil
}

// IssueCSRF выпускает короткоживущий CSRF-токен, привязанный к SessionID.
func (c *Codec) IssueCSRF(sess models.Session) (string, error) {
	const op = "token.IssueCSRF"

	if sess.SessionID == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	now := c.now().UTC().Truncate(time.Second)
	claims := csrfClaims{
		SID: sess.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{csrfAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.CSRFTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.CSRFSecret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// VerifyCSRF истинно, только если подпись верна, срок не истёк и
// sid токена совпадает с SessionID текущей сессии.
func (c *Codec) VerifyCSRF(raw string, sess models.Session) bool {
	if raw == "" || sess.SessionID == "" {
		return false
	}

	var claims csrfClaims
	if _, err := c.csrfParser.ParseWithClaims(raw, &claims, keyFunc(c.cfg.CSRFSecret)); err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(claims.SID), []byte(sess.SessionID)) == 1
}

func keyFunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}

		return secret, nil
	}
}

// reason классифицирует ошибку jwt для логов.
func reason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing_claims"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	default:
		return "invalid"
	}
}

func invalid(op, why string) error {
	return fmt.Errorf("%s: %w (%s)", op, ErrInvalidToken, why)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

func randomBase64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
