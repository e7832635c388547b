// Package event is the engine's broadcast boundary.
//
// The engine never talks to a transport. It hands every notification to a
// [Publisher] as (session ID, event type, payload) and moves on; delivery to
// individual participants is the publisher's concern.
//
// # Main Types
//
//   - [Publisher]: the boundary interface consumed by the engine
//   - [Hub]: in-process Publisher backed by a [Bus]
//   - [MultiHub]: fan-out to several publishers (e.g. local and Redis)
//   - [Bus]: synchronous dispatcher routing by event type and session
//   - [Message]: a session-scoped notification; implements [Event]
//
// # Basic Usage
//
//	bus := event.NewBus()
//	hub := event.NewHub(bus)
//
//	// Watch one session
//	hub.SubscribeSession(sessionID, func(m event.Message) {
//	    log.Printf("%s: %s", m.SessionID, m.Type)
//	})
//
//	// Watch one event type across sessions
//	bus.Subscribe(string(event.FileUpdated), func(e event.Event) { ... })
//
// # Event Types
//
// Event types are the snake_case names used on the wire: user_joined,
// user_left, file_added, file_updated, file_locked, file_unlocked,
// cursor_updated, selection_updated, conflict_detected, conflict_resolved,
// and a few session-level notifications.
package event
