package filelock

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry manages the edit locks of one session's files.
type Registry struct {
	mu    sync.RWMutex
	locks map[string]Lock // fileID -> lock
	now   func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		locks: make(map[string]Lock),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire locks fileID for holderID and reports whether a new lock was
// taken. Returns ErrLocked if another participant holds it. Re-acquiring a
// lock already held by holderID is a no-op that returns false.
func (r *Registry) Acquire(holderID, fileID string) (acquired bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.locks[fileID]; ok {
		if existing.HolderID == holderID {
			return false, nil // idempotent
		}
		return false, fmt.Errorf("%w: %s holds %s", ErrLocked, existing.HolderID, fileID)
	}

	r.locks[fileID] = Lock{
		FileID:   fileID,
		HolderID: holderID,
		LockedAt: r.now(),
	}
	return true, nil
}

// Release unlocks fileID. Returns ErrNotLocked if the file is unlocked, or
// ErrNotHolder if another participant holds it.
func (r *Registry) Release(holderID, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.releaseLocked(holderID, fileID)
}

// releaseLocked performs a single release while the write lock is held.
func (r *Registry) releaseLocked(holderID, fileID string) error {
	existing, ok := r.locks[fileID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLocked, fileID)
	}
	if existing.HolderID != holderID {
		return fmt.Errorf("%w: %s holds %s", ErrNotHolder, existing.HolderID, fileID)
	}

	delete(r.locks, fileID)
	return nil
}

// ReleaseAll drops every lock held by holderID and returns the released
// file IDs, sorted.
func (r *Registry) ReleaseAll(holderID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []string
	for fileID, l := range r.locks {
		if l.HolderID == holderID {
			released = append(released, fileID)
		}
	}
	sort.Strings(released)

	for _, fileID := range released {
		delete(r.locks, fileID)
	}
	return released
}

// Holder returns the participant holding fileID and true,
// or ("", false) if the file is unlocked.
func (r *Registry) Holder(fileID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.locks[fileID]
	if !ok {
		return "", false
	}
	return l.HolderID, true
}

// CheckAccess returns ErrLocked if fileID is locked by someone other than
// participantID.
func (r *Registry) CheckAccess(participantID, fileID string) error {
	holder, ok := r.Holder(fileID)
	if !ok || holder == participantID {
		return nil
	}
	return fmt.Errorf("%w: %s holds %s", ErrLocked, holder, fileID)
}

// Get returns the lock on fileID.
func (r *Registry) Get(fileID string) (Lock, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.locks[fileID]
	return l, ok
}

// Held returns the file IDs locked by holderID, sorted.
func (r *Registry) Held(holderID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var files []string
	for fileID, l := range r.locks {
		if l.HolderID == holderID {
			files = append(files, fileID)
		}
	}
	sort.Strings(files)
	return files
}

// Restore reinstates persisted locks, overwriting any current lock on the
// same file.
func (r *Registry) Restore(locks []Lock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range locks {
		r.locks[l.FileID] = l
	}
}
