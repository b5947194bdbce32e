package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity — снимок пользователя, который зашивается в сессионный токен.
// Внутри токена не меняется: новые данные профиля требуют выпуска новой сессии.
type Identity struct {
	ID     uuid.UUID `json:"id"`
	Email  string    `json:"email"`
	Name   string    `json:"name,omitempty"`
	Handle string    `json:"handle,omitempty"`
	Avatar string    `json:"avatar,omitempty"`
}

// User — модель пользователя витрины в хранилище.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Handle       string
	Avatar       string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity возвращает снимок пользователя для сессии.
func (u *User) Identity() Identity {
	return Identity{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Handle: u.Handle,
		Avatar: u.Avatar,
	}
}
