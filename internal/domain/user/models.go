package user

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrInvalidEmail = errors.New("valid email is required")
)

// Contact is where reminders for a user are delivered. It is recorded from
// the verified claims of the user's last authenticated request.
type Contact struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail lowercases and trims an address, rejecting anything that
// cannot be a mailbox.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return "", ErrInvalidEmail
	}
	return email, nil
}
