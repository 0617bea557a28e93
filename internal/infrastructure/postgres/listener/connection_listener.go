// Package listener relays PostgreSQL notifications to in-process caches.
package listener

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	channelName       = "connection_changed"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// Invalidator drops cached data for a bank connection.
type Invalidator interface {
	Invalidate(connectionID string)
}

// ConnectionNotification is the payload sent by the bank_connections trigger.
type ConnectionNotification struct {
	ConnectionID string `json:"connection_id"`
}

// notifier is the part of *pq.Listener the listen loop needs.
type notifier interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// ConnectionListener evicts cached subscription streams when another process
// unlinks or re-links a bank connection.
type ConnectionListener struct {
	cache  Invalidator
	dial   func() notifier
	log    *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewConnectionListener(connStr string, cache Invalidator, log *zap.Logger) *ConnectionListener {
	log = log.With(zap.String("component", "connection_listener"))
	l := &ConnectionListener{cache: cache, log: log}
	l.dial = func() notifier {
		return pq.NewListener(connStr, 10*time.Second, time.Minute, l.logEvent)
	}
	return l
}

// Start begins listening in a background goroutine.
func (l *ConnectionListener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.run(ctx)
	l.log.Info("connection listener started")
}

// Stop shuts the listener down and waits for it to exit.
func (l *ConnectionListener) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.log.Info("connection listener stopped")
}

func (l *ConnectionListener) run(ctx context.Context) {
	defer close(l.done)

	for {
		l.listen(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			l.log.Info("reconnecting to notification channel")
		}
	}
}

func (l *ConnectionListener) listen(ctx context.Context) {
	n := l.dial()
	defer n.Close()

	if err := n.Listen(channelName); err != nil {
		l.log.Error("failed to listen", zap.String("channel", channelName), zap.Error(err))
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.NotificationChannel():
			if msg == nil {
				// pq delivers nil after a reconnect; notifications may have been missed.
				l.log.Warn("notification connection re-established")
				continue
			}
			l.handle(msg)
		case <-ping.C:
			if err := n.Ping(); err != nil {
				l.log.Warn("listener ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (l *ConnectionListener) handle(msg *pq.Notification) {
	var payload ConnectionNotification
	if err := json.Unmarshal([]byte(msg.Extra), &payload); err != nil || payload.ConnectionID == "" {
		l.log.Warn("malformed connection notification", zap.String("payload", msg.Extra))
		return
	}
	l.cache.Invalidate(payload.ConnectionID)
	l.log.Debug("evicted cached streams", zap.String("item_id", payload.ConnectionID))
}

func (l *ConnectionListener) logEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.log.Info("connected to notification channel")
	case pq.ListenerEventDisconnected:
		l.log.Warn("disconnected from notification channel", zap.Error(err))
	case pq.ListenerEventReconnected:
		l.log.Info("reconnected to notification channel")
	case pq.ListenerEventConnectionAttemptFailed:
		l.log.Warn("notification connection attempt failed", zap.Error(err))
	}
}
