// Package store persists session snapshots. FileStore keeps one JSON
// document per session on disk and MemoryStore keeps encoded snapshots in
// memory. Both satisfy session.Persister.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/pairpad/internal/session"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when no snapshot exists for a session ID. It is
	// the engine's ErrSessionNotFound so callers can test either.
	ErrNotFound = session.ErrSessionNotFound

	// ErrCorrupted is returned when a stored snapshot cannot be decoded.
	ErrCorrupted = errors.New("session data corrupted")

	// ErrInvalidID is returned for IDs that cannot name a storage location.
	ErrInvalidID = errors.New("invalid session ID")
)

// Store is a session persister that can also enumerate and delete what it
// holds.
type Store interface {
	session.Persister
	ListSessions(ctx context.Context) ([]Info, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Info summarizes a stored session without its file contents.
type Info struct {
	ID           string         `json:"id" yaml:"id"`
	Owner        string         `json:"owner" yaml:"owner"`
	Status       session.Status `json:"status" yaml:"status"`
	Participants int            `json:"participants" yaml:"participants"`
	Files        int            `json:"files" yaml:"files"`
	Conflicts    int            `json:"conflicts" yaml:"conflicts"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
	LastActivity time.Time      `json:"last_activity" yaml:"last_activity"`
}

func infoOf(snap session.Snapshot) Info {
	return Info{
		ID:           snap.ID,
		Owner:        snap.Owner,
		Status:       snap.Status,
		Participants: len(snap.Participants),
		Files:        len(snap.Files),
		Conflicts:    len(snap.Conflicts),
		CreatedAt:    snap.CreatedAt,
		LastActivity: snap.LastActivity,
	}
}

// validateID rejects IDs that are empty or could escape the storage root.
func validateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case id == "." || id == "..", strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
