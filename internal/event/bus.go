package event

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/pairpad/internal/logging"
)

// Handler receives one notification.
type Handler func(Event)

// route selects which notifications a subscription receives. Empty fields
// match anything.
type route struct {
	eventType string
	sessionID string
}

func (r route) typed() bool { return r.eventType != "" }

func (r route) match(e Event) bool {
	if r.eventType != "" && r.eventType != e.EventType() {
		return false
	}
	if r.sessionID != "" {
		m, ok := e.(Message)
		return ok && m.SessionID == r.sessionID
	}
	return true
}

type subscription struct {
	id      string
	route   route
	handler Handler
}

// Bus dispatches notifications synchronously to subscribers. Subscriptions
// can be narrowed by event type, by session, or both.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription // registration order
	nextID atomic.Uint64
	logger *logging.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger reports handler panics to l instead of discarding them.
func WithLogger(l *logging.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty Bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for one event type across all sessions.
// The returned ID is accepted by Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	return b.add(route{eventType: eventType}, handler)
}

// SubscribeAll registers handler for every notification.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.add(route{}, handler)
}

// SubscribeSession registers handler for every notification of one session.
func (b *Bus) SubscribeSession(sessionID string, handler Handler) string {
	return b.add(route{sessionID: sessionID}, handler)
}

func (b *Bus) add(r route, handler Handler) string {
	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{id: id, route: r, handler: handler})
	return id
}

// Unsubscribe removes a subscription. It reports whether id was registered.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.subs, func(s subscription) bool { return s.id == id })
	if i < 0 {
		return false
	}
	// Copy so a Publish already iterating the old slice is unaffected.
	b.subs = slices.Concat(b.subs[:i], b.subs[i+1:])
	return true
}

// Publish delivers e to every matching subscriber on the caller's
// goroutine. Type-specific subscribers run before broad ones, each group in
// registration order. A panicking handler is logged and skipped.
//
// The subscriber list is snapshotted first, so handlers may subscribe or
// unsubscribe without deadlocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	var broad []Handler
	for _, s := range subs {
		if !s.route.match(e) {
			continue
		}
		if !s.route.typed() {
			broad = append(broad, s.handler)
			continue
		}
		b.deliver(s.handler, e)
	}
	for _, h := range broad {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger := b.logger
			if m, ok := e.(Message); ok {
				logger = logger.WithSession(m.SessionID)
			}
			logger.Error("event handler panicked",
				"event_type", e.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	handler(e)
}
