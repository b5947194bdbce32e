package models

import "time"

// Session — проверенное содержимое сессионного токена.
//
// Описание:
//   - User — снимок пользователя на момент выпуска;
//   - SessionID — случайный идентификатор выпуска (jti), к нему привязываются CSRF-токены;
//   - CSRFSecret — случайный секрет, сгенерированный вместе с сессией;
//   - IssuedAt/ExpiresAt — абсолютные моменты (UTC), ExpiresAt = IssuedAt + TTL.
type Session struct {
	User       Identity
	SessionID  string
	CSRFSecret string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Expired сообщает, истекла ли сессия к моменту now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
