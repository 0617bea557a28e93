package email

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"bract/internal/domain/notification"
)

// Log is a development transport that writes emails to the logger instead of
// sending them.
type Log struct {
	log *zap.Logger
}

var _ notification.EmailTransport = (*Log)(nil)

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.With(zap.String("component", "email_log"))}
}

func (l *Log) Send(ctx context.Context, email notification.Email) error {
	if email.To == "" {
		return notification.PermanentError("empty recipient", nil)
	}
	l.log.Info("email",
		zap.String("to", maskAddress(email.To)),
		zap.String("subject", email.Subject),
	)
	l.log.Debug("email body", zap.String("html", email.HTMLBody))
	return nil
}

// maskAddress keeps the first character of the local part and the domain.
func maskAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
