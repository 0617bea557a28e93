package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	ch        chan *pq.Notification
	listenErr error
	mu        sync.Mutex
	channels  []string
	closed    bool
}

func (f *fakeNotifier) Listen(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	return f.listenErr
}

func (f *fakeNotifier) NotificationChannel() <-chan *pq.Notification { return f.ch }
func (f *fakeNotifier) Ping() error                                  { return nil }

func (f *fakeNotifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type recordingCache struct {
	mu      sync.Mutex
	evicted []string
	seen    chan struct{}
}

func (c *recordingCache) Invalidate(connectionID string) {
	c.mu.Lock()
	c.evicted = append(c.evicted, connectionID)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func TestConnectionListener_Invalidates(t *testing.T) {
	fake := &fakeNotifier{ch: make(chan *pq.Notification, 4)}
	cache := &recordingCache{seen: make(chan struct{}, 4)}

	l := NewConnectionListener("", cache, zap.NewNop())
	l.dial = func() notifier { return fake }
	l.Start(context.Background())

	fake.ch <- &pq.Notification{Channel: channelName, Extra: `not json`}
	fake.ch <- nil
	fake.ch <- &pq.Notification{Channel: channelName, Extra: `{"connection_id":"item-1"}`}

	select {
	case <-cache.seen:
	case <-time.After(time.Second):
		t.Fatal("notification was not handled")
	}
	l.Stop()

	assert.Equal(t, []string{"item-1"}, cache.evicted)
	assert.Equal(t, []string{channelName}, fake.channels)
	assert.True(t, fake.closed)
}

func TestConnectionListener_ListenFailureStops(t *testing.T) {
	fake := &fakeNotifier{ch: make(chan *pq.Notification), listenErr: errors.New("connection refused")}
	l := NewConnectionListener("", &recordingCache{seen: make(chan struct{}, 1)}, zap.NewNop())
	l.dial = func() notifier { return fake }

	l.Start(context.Background())
	l.Stop()

	assert.True(t, fake.closed)
}
