package notification

import (
	"errors"
	"fmt"
	"time"

	"bract/internal/domain/subscription"
)

// Method is a reminder delivery channel.
type Method string

const (
	MethodEmail Method = "email"
	MethodPush  Method = "push"
)

func (m Method) Valid() bool {
	return m == MethodEmail || m == MethodPush
}

var validDeviceTypes = map[string]struct{}{
	"ios":     {},
	"android": {},
	"web":     {},
}

// Domain errors
var (
	ErrInvalidDeviceType = errors.New("device type must be 'ios', 'android' or 'web'")
	ErrInvalidToken      = errors.New("device token is required")
)

type Kind int

const (
	// Transient failures are retried on a later tick.
	Transient Kind = iota + 1
	// Permanent failures are recorded and not retried.
	Permanent
)

func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// DeliveryError reports a reminder that could not be delivered.
type DeliveryError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s delivery failure: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s delivery failure: %s", e.Kind, e.Reason)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func TransientError(reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: Transient, Reason: reason, Err: err}
}

func PermanentError(reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: Permanent, Reason: reason, Err: err}
}

// IsPermanent reports whether err is a permanent delivery failure. Errors that
// carry no classification are treated as transient.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Kind == Permanent
}

// Reminder is one occurrence to notify a user about.
type Reminder struct {
	UserID     string
	Stream     subscription.Stream
	Occurrence subscription.Date
	Today      subscription.Date
	Method     Method
}

// DaysUntilDue counts whole days from Today to the occurrence.
func (r Reminder) DaysUntilDue() int {
	return int(r.Occurrence.Sub(r.Today.Time).Hours() / 24)
}

// DeviceToken represents a registered FCM device token
type DeviceToken struct {
	ID         string    `json:"id"`
	UserID     string    `json:"-"`
	Token      string    `json:"token"`
	DeviceType string    `json:"device_type"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   time.Time `json:"last_used"`
}

// CreateDeviceTokenParams contains parameters for registering a device
type CreateDeviceTokenParams struct {
	UserID     string
	Token      string
	DeviceType string
}

func (p CreateDeviceTokenParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.Token == "" {
		return ErrInvalidToken
	}
	if !IsValidDeviceType(p.DeviceType) {
		return ErrInvalidDeviceType
	}
	return nil
}

func IsValidDeviceType(dt string) bool {
	_, ok := validDeviceTypes[dt]
	return ok
}
