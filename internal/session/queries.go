package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/document"
	"github.com/Iron-Ham/pairpad/internal/presence"
)

// Session returns a snapshot of a live session.
func (e *Engine) Session(sessionID string) (Snapshot, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(), nil
}

// Sessions returns the IDs of every live session, sorted.
func (e *Engine) Sessions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Permissions returns the permissions participantID holds in a session.
func (e *Engine) Permissions(sessionID, participantID string) ([]Permission, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permsOf(participantID), nil
}

// File returns a snapshot of one file.
func (e *Engine) File(sessionID, fileID string) (document.Snapshot, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return document.Snapshot{}, err
	}
	return s.docs.Get(fileID)
}

// FileByPath returns a snapshot of the file at path.
func (e *Engine) FileByPath(sessionID, path string) (document.Snapshot, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return document.Snapshot{}, err
	}
	fileID, ok := s.docs.ByPath(path)
	if !ok {
		return document.Snapshot{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return s.docs.Get(fileID)
}

// Files returns every file of a session in creation order.
func (e *Engine) Files(sessionID string) ([]document.Snapshot, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.docs.List(), nil
}

// FindFiles returns the files whose path matches a glob pattern.
func (e *Engine) FindFiles(sessionID, pattern string) ([]document.Snapshot, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.docs.Find(pattern)
}

// Conflicts returns every conflict recorded in a session, resolved or not,
// in detection order.
func (e *Engine) Conflicts(sessionID string) ([]conflict.Conflict, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.resolver.List(), nil
}

// Cursors returns the cursors in one file.
func (e *Engine) Cursors(sessionID, fileID string) ([]presence.CursorState, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.presence.Cursors(fileID), nil
}

// Selections returns the selections in one file.
func (e *Engine) Selections(sessionID, fileID string) ([]presence.SelectionState, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.presence.Selections(fileID), nil
}

// Save persists a session now, regardless of its auto-save setting.
func (e *Engine) Save(ctx context.Context, sessionID string) error {
	if e.persister == nil {
		return ErrNoPersister
	}
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}
	return e.save(ctx, s)
}

// LoadSession makes a persisted session live again and returns its
// snapshot. A session that is already live is returned as is. Presence
// starts empty.
func (e *Engine) LoadSession(ctx context.Context, sessionID string) (Snapshot, error) {
	if s, err := e.session(sessionID); err == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.snapshot(), nil
	}
	if e.persister == nil {
		return Snapshot{}, ErrNoPersister
	}

	snap, err := e.persister.LoadSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	settings := e.defaults.Merge(snap.Settings)
	readOnly, err := compilePatterns(settings.ReadOnlyPatterns)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	s := newLiveSession(snap.ID, settings, readOnly, e.now, e.newID)
	s.restore(snap)

	e.mu.Lock()
	if existing, ok := e.sessions[snap.ID]; ok {
		e.mu.Unlock()
		existing.mu.RLock()
		defer existing.mu.RUnlock()
		return existing.snapshot(), nil
	}
	e.sessions[snap.ID] = s
	e.mu.Unlock()

	// Ended sessions were already taken off the gauges.
	if s.status != StatusEnded {
		e.metrics.SessionStarted()
		e.metrics.ParticipantsChanged(len(snap.Participants))
	}
	e.logger.WithSession(snap.ID).Info("session loaded",
		"status", string(s.status),
		"participants", len(snap.Participants),
		"files", len(snap.Files),
	)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(), nil
}
