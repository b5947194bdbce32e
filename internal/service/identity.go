package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-storefront-edge/internal/models"
	"github.com/pribylovaa/go-storefront-edge/internal/storage"
)

const minPasswordLength = 8

// Register регистрирует нового пользователя по email и паролю.
func (s *Service) Register(ctx context.Context, email, password, name string) (models.Identity, error) {
	const op = "service.identity.Register"

	normEmail, err := validateEmail(email)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := validatePassword(password); err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.storage.UserByEmail(ctx, normEmail)
	if err == nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	user := newUser(normEmail, name, "")
	user.PasswordHash = string(hash)

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return models.Identity{}, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	return user.Identity(), nil
}

// Login выполняет вход по email и паролю.
// Неизвестный email, пустой пароль и пользователь без пароля (OAuth)
// дают одну и ту же ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (models.Identity, error) {
	const op = "service.identity.Login"

	normEmail, err := validateEmail(email)
	if err != nil || password == "" {
		return models.Identity{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// выравниваем время ответа с веткой существующего пользователя.
			_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(password))
			return models.Identity{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	hash := []byte(user.PasswordHash)
	if len(hash) == 0 {
		hash = s.dummyHash()
	}

	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil || user.PasswordHash == "" {
		return models.Identity{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	return user.Identity(), nil
}

// EnsureUser находит пользователя по email или создаёт его без пароля.
// Используется после успешного OAuth-входа.
func (s *Service) EnsureUser(ctx context.Context, email, name, avatar string) (models.Identity, error) {
	const op = "service.identity.EnsureUser"

	normEmail, err := validateEmail(email)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err == nil {
		return user.Identity(), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	user = newUser(normEmail, name, avatar)
	if err := s.storage.SaveUser(ctx, user); err != nil {
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return models.Identity{}, fmt.Errorf("%s: %w", op, err)
		}

		// параллельный вход с тем же email успел создать запись.
		user, err = s.storage.UserByEmail(ctx, normEmail)
		if err != nil {
			return models.Identity{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	return user.Identity(), nil
}

// UserByID возвращает актуальный профиль пользователя.
func (s *Service) UserByID(ctx context.Context, id uuid.UUID) (models.Identity, error) {
	const op = "service.identity.UserByID"

	user, err := s.storage.UserByID(ctx, id)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	return user.Identity(), nil
}

func (s *Service) dummyHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummy, _ = bcrypt.GenerateFromPassword([]byte("storefront-dummy-password"), s.cost)
	})

	return s.dummy
}

func newUser(email, name, avatar string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:        uuid.New(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Handle:    handleFromEmail(email),
		Avatar:    avatar,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// handleFromEmail — локальная часть адреса: "ann.lee@x.io" -> "ann.lee".
func handleFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// validateEmail обрезает пробелы, проверяет формат и приводит к нижнему регистру.
func validateEmail(raw string) (string, error) {
	const op = "service.identity.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// validatePassword: длина >= 8 символов, хотя бы одна буква и одна цифра.
func validatePassword(pw string) error {
	const op = "service.identity.validatePassword"

	if len([]rune(pw)) < minPasswordLength {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	var hasLetter, hasDigit bool
	for _, r := range pw {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasLetter || !hasDigit {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
