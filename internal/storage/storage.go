package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-storefront-edge/internal/models"
)

var (
	// ErrNotFound — пользователь не найден.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/id).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя в БД.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email (без учёта регистра).
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	Close()
}
