package reminder

import (
	"errors"
	"time"

	"bract/internal/domain/notification"
)

const (
	MinDaysBefore = 1
	MaxDaysBefore = 30
)

// Domain errors
var (
	ErrInvalidRange   = errors.New("reminder_days_before must be between 1 and 30")
	ErrStreamRequired = errors.New("stream_id is required")
	ErrInvalidMethod  = errors.New("delivery_method must be 'email' or 'push'")
	ErrNotFound       = errors.New("reminder not found")
)

// Preference is a user's reminder setting for one subscription stream.
type Preference struct {
	UserID     string              `json:"-"`
	StreamID   string              `json:"stream_id"`
	DaysBefore int                 `json:"reminder_days_before"`
	Method     notification.Method `json:"delivery_method"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// UpsertParams contains the fields a user sets on a reminder.
type UpsertParams struct {
	UserID     string
	StreamID   string
	DaysBefore int
	Method     notification.Method
}

func (p UpsertParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.StreamID == "" {
		return ErrStreamRequired
	}
	if p.DaysBefore < MinDaysBefore || p.DaysBefore > MaxDaysBefore {
		return ErrInvalidRange
	}
	if !p.Method.Valid() {
		return ErrInvalidMethod
	}
	return nil
}
