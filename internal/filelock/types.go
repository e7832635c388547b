package filelock

import (
	"errors"
	"time"
)

// Sentinel errors returned by registry operations.
var (
	// ErrLocked is returned when a file is already locked by another participant.
	ErrLocked = errors.New("file locked by another participant")

	// ErrNotHolder is returned when a participant releases a lock it does not hold.
	ErrNotHolder = errors.New("participant does not hold this lock")

	// ErrNotLocked is returned when releasing an unlocked file.
	ErrNotLocked = errors.New("file is not locked")
)

// Lock records who holds a file and since when.
type Lock struct {
	FileID   string    `json:"file_id"`
	HolderID string    `json:"holder_id"`
	LockedAt time.Time `json:"locked_at"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source used to stamp new locks.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}
