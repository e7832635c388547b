package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/pairpad/internal/event"
)

// Envelope is a notification received from Redis. Payload is left encoded;
// its shape depends on Type.
type Envelope struct {
	SessionID string          `json:"session_id"`
	Type      event.Type      `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	At        time.Time       `json:"at"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Subscription delivers one session's notifications.
type Subscription struct {
	pubsub *redis.PubSub
	out    chan Envelope

	closeOnce sync.Once
	done      chan struct{}
}

// Subscribe listens on a session's channel. It returns after Redis has
// confirmed the subscription, so anything published afterwards is
// delivered.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	pubsub := h.client.Subscribe(ctx, h.Channel(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", h.Channel(sessionID), err)
	}

	s := &Subscription{
		pubsub: pubsub,
		out:    make(chan Envelope, 64),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *Subscription) run() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			continue
		}
		select {
		case s.out <- env:
		case <-s.done:
			return
		}
	}
}

// Messages returns the delivery channel. It is closed after Close.
func (s *Subscription) Messages() <-chan Envelope {
	return s.out
}

// Close unsubscribes.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
