package oauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleIssuer — issuer для OIDC discovery Google.
const GoogleIssuer = "https://accounts.google.com"

// GoogleConfig — учётные данные OAuth-клиента.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Issuer переопределяет GoogleIssuer (тесты).
	Issuer string
}

// Google реализует Provider через discovery Google и code flow с PKCE.
type Google struct {
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogle выполняет OIDC discovery (исходящий HTTP-запрос при старте).
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	const op = "oauth.google.NewGoogle"

	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, fmt.Errorf("%s: client id, secret and redirect url are required", op)
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = GoogleIssuer
	}

	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Google{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     p.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: p.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) AuthCodeURL(state, verifier string) string {
	return g.config.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
	)
}

// Exchange проверяет подпись id_token по JWKS провайдера, aud и exp.
func (g *Google) Exchange(ctx context.Context, code, verifier string) (*Claims, error) {
	const op = "oauth.google.Exchange"

	tok, err := g.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrExchange, err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%s: %w: no id_token", op, ErrExchange)
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrExchange, err)
	}

	var c struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrExchange, err)
	}

	if strings.TrimSpace(c.Email) == "" || !c.EmailVerified {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailNotVerified)
	}

	return &Claims{
		Subject: c.Sub,
		Email:   c.Email,
		Name:    c.Name,
		Picture: c.Picture,
	}, nil
}

var _ Provider = (*Google)(nil)
