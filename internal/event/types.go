package event

import (
	"context"
	"time"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type,
	// e.g. "file_updated".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Type names a session notification.
type Type string

// Session notifications emitted by the engine.
const (
	SessionCreated     Type = "session_created"
	SessionStatus      Type = "session_status"
	UserJoined         Type = "user_joined"
	UserLeft           Type = "user_left"
	UserStatus         Type = "user_status"
	PermissionsChanged Type = "permissions_changed"
	FileAdded          Type = "file_added"
	FileUpdated        Type = "file_updated"
	FileLocked         Type = "file_locked"
	FileUnlocked       Type = "file_unlocked"
	CursorUpdated      Type = "cursor_updated"
	SelectionUpdated   Type = "selection_updated"
	ConflictDetected   Type = "conflict_detected"
	ConflictResolved   Type = "conflict_resolved"
)

// Message is a notification scoped to one session's participants.
type Message struct {
	SessionID string    `json:"session_id"`
	Type      Type      `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

func (m Message) EventType() string    { return string(m.Type) }
func (m Message) Timestamp() time.Time { return m.At }

// NewMessage creates a Message stamped with the current time.
func NewMessage(sessionID string, eventType Type, payload any) Message {
	return Message{
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
		At:        time.Now(),
	}
}

// Publisher fans a notification out to every participant of a session.
//
// Delivery is fire-and-forget: implementations must not wait on individual
// recipients, and the error result only reports failure to hand the message
// to the transport.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, eventType Type, payload any) error
}
