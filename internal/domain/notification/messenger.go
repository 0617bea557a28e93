package notification

import "context"

// MulticastResult counts per-token outcomes of a push.
type MulticastResult struct {
	Success int
	// Invalid tokens were rejected as unregistered and deactivated.
	Invalid int
	Failure int
}

// Messenger defines the interface for sending push notifications.
// Implemented by the Firebase FCM client in the infrastructure layer.
type Messenger interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) (MulticastResult, error)
}

// Email is a rendered reminder message.
type Email struct {
	To       string
	Subject  string
	HTMLBody string
}

// EmailTransport hands a rendered email to an outbound provider. Returned
// errors should be *DeliveryError so permanent rejections are not retried.
type EmailTransport interface {
	Send(ctx context.Context, email Email) error
}
