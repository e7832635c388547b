package event

import (
	"context"
	"errors"
)

// Hub is the in-process Publisher. It turns each notification into a
// Message and dispatches it on a Bus.
type Hub struct {
	bus *Bus
}

// NewHub creates a Hub publishing on bus.
func NewHub(bus *Bus) *Hub {
	return &Hub{bus: bus}
}

// Bus returns the underlying bus.
func (h *Hub) Bus() *Bus {
	return h.bus
}

// Publish implements Publisher.
func (h *Hub) Publish(_ context.Context, sessionID string, eventType Type, payload any) error {
	h.bus.Publish(NewMessage(sessionID, eventType, payload))
	return nil
}

// SubscribeSession registers handler for every message of one session.
// Returns a subscription ID for Bus.Unsubscribe.
func (h *Hub) SubscribeSession(sessionID string, handler func(Message)) string {
	return h.bus.SubscribeSession(sessionID, func(e Event) {
		handler(e.(Message))
	})
}

// MultiHub publishes to several Publishers in order. Every publisher is
// attempted; failures are joined.
type MultiHub []Publisher

// Publish implements Publisher.
func (m MultiHub) Publish(ctx context.Context, sessionID string, eventType Type, payload any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, sessionID, eventType, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Publisher that drops every notification.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, string, Type, any) error { return nil }
