// Package redisbus broadcasts session notifications over Redis pub/sub so
// engines in several processes can share participants. Each session has its
// own channel and messages are JSON encoded event.Message values.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/pairpad/internal/event"
)

const (
	// DefaultPrefix is the channel namespace.
	DefaultPrefix = "pairpad"
	// DefaultTimeout bounds a single PUBLISH.
	DefaultTimeout = 500 * time.Millisecond
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("redis hub closed")

// Hub is an event.Publisher backed by Redis PUBLISH.
type Hub struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	owned   bool

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithPrefix sets the channel namespace.
func WithPrefix(prefix string) Option {
	return func(h *Hub) {
		if prefix != "" {
			h.prefix = prefix
		}
	}
}

// WithTimeout sets the per-publish deadline.
func WithTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New creates a Hub on an existing client. The caller keeps ownership of
// the client.
func New(client redis.UniversalClient, opts ...Option) *Hub {
	h := &Hub{
		client:  client,
		prefix:  DefaultPrefix,
		timeout: DefaultTimeout,
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Dial connects to the Redis server at addr and verifies it with PING. The
// returned Hub owns the client and closes it on Close.
func Dial(ctx context.Context, addr string, db int, opts ...Option) (*Hub, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	h := New(client, opts...)
	h.owned = true
	return h, nil
}

// Channel returns the channel carrying one session's notifications.
func (h *Hub) Channel(sessionID string) string {
	return h.prefix + ":session:" + sessionID
}

// Publish implements event.Publisher. It returns once Redis has accepted the
// message or the timeout expires; it never waits on subscribers.
func (h *Hub) Publish(ctx context.Context, sessionID string, eventType event.Type, payload any) error {
	select {
	case <-h.closed:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(event.NewMessage(sessionID, eventType, payload))
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.client.Publish(ctx, h.Channel(sessionID), data).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", eventType, h.Channel(sessionID), err)
	}
	return nil
}

// Close stops publishing. A client created by Dial is closed too.
func (h *Hub) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		if h.owned {
			err = h.client.Close()
		}
	})
	return err
}
