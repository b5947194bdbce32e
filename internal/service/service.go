// service содержит логику учётных записей витрины: регистрацию,
// вход по паролю и поиск-или-создание пользователя после OAuth.
//
// Service не хранит состояние запроса и безопасен для конкурентного
// использования при потокобезопасном хранилище. Наружу отдаётся только
// models.Identity: сессии выпускает пакет session.
package service

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-storefront-edge/internal/storage"
)

var (
	// ErrInvalidCredentials — пара email/пароль неверна или пользователь не найден.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken — e-mail уже занят другим пользователем.
	// Транспорт: HTTP 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrInvalidEmail — e-mail имеет некорректный формат.
	// Транспорт: HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль короче 8 символов или без буквы/цифры.
	// Транспорт: HTTP 400.
	ErrWeakPassword = errors.New("password is too weak")
)

// Service описывает логику учётных записей.
type Service struct {
	storage storage.UserStorage
	cost    int

	dummyOnce sync.Once
	dummy     []byte
}

// Option настраивает Service.
type Option func(*Service)

// WithBcryptCost задаёт стоимость bcrypt (в тестах — bcrypt.MinCost).
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// New создаёт новый экземпляр Service.
func New(storage storage.UserStorage, opts ...Option) *Service {
	s := &Service{
		storage: storage,
		cost:    bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}
