package notification

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"bract/internal/domain/user"
)

var deliveries, _ = otel.Meter("bract/notification").Int64Counter("notification.delivery.total",
	metric.WithDescription("Reminder delivery attempts by method and result"))

// DefaultSendTimeout bounds one delivery attempt.
const DefaultSendTimeout = 30 * time.Second

// ContactSource resolves the email address of a user.
type ContactSource interface {
	Contact(ctx context.Context, userID string) (*user.Contact, error)
}

// Notifier renders a reminder and makes exactly one delivery attempt per
// call. It never retries; a transient failure is left to the next tick.
type Notifier struct {
	contacts  ContactSource
	email     EmailTransport
	devices   Repository
	messenger Messenger
	renderer  *Renderer
	timeout   time.Duration
	log       *zap.Logger
}

// NewNotifier wires the delivery channels. messenger may be nil when push is
// not configured; push reminders then fail permanently.
func NewNotifier(contacts ContactSource, email EmailTransport, devices Repository, messenger Messenger, renderer *Renderer, log *zap.Logger) *Notifier {
	return &Notifier{
		contacts:  contacts,
		email:     email,
		devices:   devices,
		messenger: messenger,
		renderer:  renderer,
		timeout:   DefaultSendTimeout,
		log:       log.With(zap.String("component", "notifier")),
	}
}

// WithTimeout sets the deadline of one delivery attempt. Non-positive
// values keep the current one.
func (n *Notifier) WithTimeout(d time.Duration) *Notifier {
	if d > 0 {
		n.timeout = d
	}
	return n
}

// Send delivers a reminder over its method within the notifier's timeout.
// Failures are *DeliveryError.
func (n *Notifier) Send(ctx context.Context, r Reminder) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var err error
	switch r.Method {
	case MethodEmail, "":
		err = n.sendEmail(ctx, r)
	case MethodPush:
		err = n.sendPush(ctx, r)
	default:
		err = PermanentError("unknown delivery method "+string(r.Method), nil)
	}

	result := "sent"
	if err != nil {
		var de *DeliveryError
		if !errors.As(err, &de) {
			de = TransientError("delivery failed", err)
			err = de
		}
		result = de.Kind.String()
	}
	deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(r.Method)),
		attribute.String("result", result),
	))
	return err
}

func (n *Notifier) sendEmail(ctx context.Context, r Reminder) error {
	contact, err := n.contacts.Contact(ctx, r.UserID)
	if errors.Is(err, user.ErrNotFound) {
		return PermanentError("no email address on file", nil)
	}
	if err != nil {
		return TransientError("contact lookup failed", err)
	}

	subject, body, err := n.renderer.Email(r)
	if err != nil {
		return PermanentError("render failed", err)
	}

	return n.email.Send(ctx, Email{To: contact.Email, Subject: subject, HTMLBody: body})
}

func (n *Notifier) sendPush(ctx context.Context, r Reminder) error {
	if n.messenger == nil {
		return PermanentError("push delivery is not configured", nil)
	}

	devices, err := n.devices.GetActiveTokensByUserID(ctx, r.UserID)
	if err != nil {
		return TransientError("device lookup failed", err)
	}
	if len(devices) == 0 {
		return PermanentError("no active push devices", nil)
	}

	title, body, err := n.renderer.Push(r)
	if err != nil {
		return PermanentError("render failed", err)
	}

	tokens := make([]string, len(devices))
	for i, d := range devices {
		tokens[i] = d.Token
	}
	data := map[string]string{
		"route":     "subscriptions",
		"stream_id": r.Stream.StreamID,
		"due_date":  r.Occurrence.String(),
	}

	res, err := n.messenger.SendMulticast(ctx, tokens, title, body, data)
	if err != nil {
		return TransientError("push provider error", err)
	}
	switch {
	case res.Success > 0:
		return nil
	case res.Invalid == len(tokens):
		return PermanentError("all push devices rejected", nil)
	default:
		return TransientError("push delivery failed on every device", nil)
	}
}
