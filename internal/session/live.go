package session

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/document"
	"github.com/Iron-Ham/pairpad/internal/filelock"
	"github.com/Iron-Ham/pairpad/internal/presence"
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// liveSession is the in-memory state of one session.
//
// Lock order: mu before any document serializer, never the reverse. Roster
// and permission changes take mu for writing; document and presence calls
// take it for reading, so a departing participant cannot race a new cursor
// or edit in after leave has purged them.
type liveSession struct {
	mu           sync.RWMutex
	id           string
	owner        string
	participants []Participant // join order
	permissions  map[Permission]map[string]struct{}
	status       Status
	createdAt    time.Time
	settings     Settings // immutable after creation
	readOnly     []glob.Glob

	lastActivity atomic.Int64 // unix nanoseconds

	docs     *document.Store
	locks    *filelock.Registry
	resolver *conflict.Resolver
	presence *presence.Tracker

	saveMu sync.Mutex // orders snapshots handed to the Persister
}

func newLiveSession(id string, settings Settings, readOnly []glob.Glob, now func() time.Time, newID func() string) *liveSession {
	locks := filelock.NewRegistry(filelock.WithClock(now))
	resolver := conflict.NewResolver(id, settings.ConflictResolution,
		conflict.WithClock(now), conflict.WithIDGenerator(newID))
	docs := document.NewStore(document.Config{
		SessionID:          id,
		Resolver:           resolver,
		Locks:              locks,
		LogSize:            settings.OpLogSize,
		AllowDisjointMerge: settings.AllowDisjointMerge,
	}, document.WithClock(now), document.WithIDGenerator(newID))

	return &liveSession{
		id:          id,
		permissions: make(map[Permission]map[string]struct{}),
		status:      StatusActive,
		settings:    settings,
		readOnly:    readOnly,
		docs:        docs,
		locks:       locks,
		resolver:    resolver,
		presence:    presence.NewTracker(),
	}
}

func (s *liveSession) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

func (s *liveSession) lastActive() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// The helpers below expect the caller to hold mu.

func (s *liveSession) rosterSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

func (s *liveSession) member(participantID string) (int, bool) {
	i := slices.IndexFunc(s.participants, func(p Participant) bool { return p.ID == participantID })
	return i, i >= 0
}

func (s *liveSession) has(participantID string, perm Permission) bool {
	_, ok := s.permissions[perm][participantID]
	return ok
}

func (s *liveSession) grant(participantID string, perms ...Permission) {
	for _, perm := range perms {
		set, ok := s.permissions[perm]
		if !ok {
			set = make(map[string]struct{})
			s.permissions[perm] = set
		}
		set[participantID] = struct{}{}
	}
}

func (s *liveSession) revokeAll(participantID string) {
	for _, set := range s.permissions {
		delete(set, participantID)
	}
}

func (s *liveSession) permsOf(participantID string) []Permission {
	var out []Permission
	for _, perm := range AllPermissions() {
		if s.has(participantID, perm) {
			out = append(out, perm)
		}
	}
	return out
}

// require fails unless participantID is a member holding perm.
func (s *liveSession) require(participantID string, perm Permission) error {
	if _, ok := s.member(participantID); !ok {
		return fmt.Errorf("%w: %s is not in session %s", ErrPermissionDenied, participantID, s.id)
	}
	if !s.has(participantID, perm) {
		return fmt.Errorf("%w: %s lacks %s", ErrPermissionDenied, participantID, perm)
	}
	return nil
}

// checkActive gates joins and document mutations.
func (s *liveSession) checkActive() error {
	switch s.status {
	case StatusEnded:
		return fmt.Errorf("%w: %s", ErrSessionEnded, s.id)
	case StatusPaused:
		return fmt.Errorf("%w: %s is paused", ErrSessionInactive, s.id)
	}
	return nil
}

// checkOpen gates everything else: only ended sessions refuse.
func (s *liveSession) checkOpen() error {
	if s.status == StatusEnded {
		return fmt.Errorf("%w: %s", ErrSessionEnded, s.id)
	}
	return nil
}

func (s *liveSession) readOnlyPath(path string) bool {
	for _, g := range s.readOnly {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func (s *liveSession) snapshot() Snapshot {
	perms := make(map[Permission][]string, len(s.permissions))
	for perm, set := range s.permissions {
		if len(set) == 0 {
			continue
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		perms[perm] = ids
	}
	return Snapshot{
		ID:           s.id,
		Owner:        s.owner,
		Participants: slices.Clone(s.participants),
		Permissions:  perms,
		Status:       s.status,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActive(),
		Settings:     s.settings,
		Files:        s.docs.List(),
		Conflicts:    s.resolver.List(),
	}
}

func (s *liveSession) restore(snap Snapshot) {
	s.owner = snap.Owner
	s.participants = slices.Clone(snap.Participants)
	for perm, ids := range snap.Permissions {
		for _, id := range ids {
			s.grant(id, perm)
		}
	}
	s.status = snap.Status
	s.createdAt = snap.CreatedAt
	s.touch(snap.LastActivity)
	s.docs.Restore(snap.Files)
	s.resolver.Restore(snap.Conflicts)
}

// Roster and lifecycle transitions. Each returns changed=false for a no-op,
// which the engine neither broadcasts nor persists.

func (s *liveSession) join(p Participant, now time.Time) (Joined, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return Joined{}, false, err
	}
	if _, ok := s.member(p.ID); ok {
		return Joined{}, false, nil
	}

	isOwner := p.ID == s.owner
	if !isOwner && !s.has(p.ID, PermView) && !slices.Contains(p.Permissions, PermView) {
		return Joined{}, false, fmt.Errorf("%w: %s lacks view permission", ErrPermissionDenied, p.ID)
	}
	if len(s.participants) >= s.settings.MaxParticipants {
		return Joined{}, false, fmt.Errorf("%w: %d of %d", ErrSessionFull, len(s.participants), s.settings.MaxParticipants)
	}

	// A session whose owner left alone is claimed by the next member, so the
	// owner is always on the roster once anyone is.
	claimed := false
	if _, ok := s.member(s.owner); !ok && !isOwner {
		s.owner = p.ID
		claimed = true
	}

	granted := p.Permissions
	p.Permissions = nil
	p.JoinedAt = now
	p.LastSeen = now
	if !p.Status.Valid() {
		p.Status = StatusOnline
	}
	s.participants = append(s.participants, p)
	for _, perm := range granted {
		if _, err := ParsePermission(string(perm)); err == nil {
			s.grant(p.ID, perm)
		}
	}
	if isOwner || claimed {
		s.grant(p.ID, AllPermissions()...)
	}
	s.touch(now)

	joined := Joined{Participant: p, Permissions: s.permsOf(p.ID)}
	if claimed {
		joined.NewOwner = p.ID
	}
	return joined, true, nil
}

func (s *liveSession) leave(participantID string, now time.Time) (Left, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return Left{}, err
	}
	i, ok := s.member(participantID)
	if !ok {
		return Left{}, fmt.Errorf("%w: %s", ErrParticipantNotFound, participantID)
	}

	s.participants = slices.Delete(s.participants, i, i+1)
	s.revokeAll(participantID)
	left := Left{
		ParticipantID: participantID,
		ClearedFiles:  s.presence.RemoveParticipant(participantID),
		ReleasedLocks: s.docs.ReleaseAll(participantID),
	}

	// The oldest remaining joiner inherits ownership. An owner leaving an
	// otherwise empty session stays owner until someone joins.
	if participantID == s.owner && len(s.participants) > 0 {
		s.owner = s.participants[0].ID
		s.grant(s.owner, AllPermissions()...)
		left.NewOwner = s.owner
	}
	s.touch(now)
	return left, nil
}

func (s *liveSession) setParticipantStatus(participantID string, status ParticipantStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}
	i, ok := s.member(participantID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrParticipantNotFound, participantID)
	}

	p := &s.participants[i]
	p.LastSeen = now
	s.touch(now)
	if p.Status == status {
		return false, nil
	}
	p.Status = status
	return true, nil
}

func (s *liveSession) changePermission(actorID, targetID string, perm Permission, grant bool, now time.Time) (PermissionUpdate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return PermissionUpdate{}, false, err
	}
	if err := s.require(actorID, PermManage); err != nil {
		return PermissionUpdate{}, false, err
	}
	if _, ok := s.member(targetID); !ok {
		return PermissionUpdate{}, false, fmt.Errorf("%w: %s", ErrParticipantNotFound, targetID)
	}
	if !grant && targetID == s.owner {
		return PermissionUpdate{}, false, fmt.Errorf("%w: the owner's permissions cannot be revoked", ErrPermissionDenied)
	}

	if s.has(targetID, perm) == grant {
		return PermissionUpdate{}, false, nil
	}
	if grant {
		s.grant(targetID, perm)
	} else {
		delete(s.permissions[perm], targetID)
	}
	s.touch(now)

	return PermissionUpdate{
		ParticipantID: targetID,
		ChangedBy:     actorID,
		Permissions:   s.permsOf(targetID),
	}, true, nil
}

func (s *liveSession) transition(actorID string, to Status, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if err := s.require(actorID, PermManage); err != nil {
		return false, err
	}

	switch {
	case s.status == to:
		return false, nil
	case to == StatusPaused && s.status != StatusActive,
		to == StatusActive && s.status != StatusPaused:
		return false, fmt.Errorf("%w: cannot move from %s to %s", ErrSessionInactive, s.status, to)
	}
	s.status = to
	s.touch(now)
	return true, nil
}

// expire ends the session if it has been idle longer than its timeout.
func (s *liveSession) expire(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded || s.settings.SessionTimeout <= 0 {
		return false
	}
	if now.Sub(s.lastActive()) <= s.settings.SessionTimeout {
		return false
	}
	s.status = StatusEnded
	return true
}

func (s *liveSession) resolveConflict(conflictID string, res conflict.Resolution, now time.Time) (conflict.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return conflict.Conflict{}, err
	}
	if err := s.require(res.ResolverID, PermEdit); err != nil {
		return conflict.Conflict{}, err
	}
	c, err := s.resolver.Resolve(conflictID, res)
	if err != nil {
		return conflict.Conflict{}, err
	}
	s.touch(now)
	return c, nil
}

// Document operations run under the read lock; the document store
// serializes per file.

func (s *liveSession) addFile(participantID, path, content string, now time.Time) (document.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkActive(); err != nil {
		return document.Snapshot{}, err
	}
	if err := s.require(participantID, PermEdit); err != nil {
		return document.Snapshot{}, err
	}
	if s.readOnlyPath(path) {
		return document.Snapshot{}, fmt.Errorf("%w: %s is read-only", ErrPermissionDenied, path)
	}
	snap, err := s.docs.Add(path, content, participantID)
	if err != nil {
		return document.Snapshot{}, err
	}
	s.touch(now)
	return snap, nil
}

func (s *liveSession) applyChange(participantID, fileID string, ops []textedit.Operation, now time.Time) (document.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkActive(); err != nil {
		return document.Change{}, err
	}
	if err := s.require(participantID, PermEdit); err != nil {
		return document.Change{}, err
	}
	path, err := s.docs.Path(fileID)
	if err != nil {
		return document.Change{}, err
	}
	if s.readOnlyPath(path) {
		return document.Change{}, fmt.Errorf("%w: %s is read-only", ErrPermissionDenied, path)
	}

	change, err := s.docs.ApplyChange(participantID, fileID, ops)
	if err == nil || change.Conflict != nil {
		s.touch(now)
	}
	return change, err
}

func (s *liveSession) lockFile(participantID, fileID string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkActive(); err != nil {
		return false, err
	}
	if err := s.require(participantID, PermEdit); err != nil {
		return false, err
	}
	acquired, err := s.docs.Lock(participantID, fileID)
	if acquired {
		s.touch(now)
	}
	return acquired, err
}

func (s *liveSession) unlockFile(participantID, fileID string, now time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.docs.Unlock(participantID, fileID); err != nil {
		return err
	}
	s.touch(now)
	return nil
}

// Presence operations. Presence is not persisted but does count as activity.

func (s *liveSession) presenceTarget(participantID, fileID string) (Participant, error) {
	if err := s.checkOpen(); err != nil {
		return Participant{}, err
	}
	if err := s.require(participantID, PermView); err != nil {
		return Participant{}, err
	}
	if !s.docs.Exists(fileID) {
		return Participant{}, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	i, _ := s.member(participantID)
	return s.participants[i], nil
}

func (s *liveSession) updateCursor(state presence.CursorState, now time.Time) (presence.CursorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.presenceTarget(state.ParticipantID, state.FileID)
	if err != nil {
		return presence.CursorState{}, err
	}
	if state.Name == "" {
		state.Name = p.Name
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = now
	}
	s.touch(now)
	return s.presence.UpdateCursor(state), nil
}

func (s *liveSession) updateSelection(state presence.SelectionState, now time.Time) (presence.SelectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.presenceTarget(state.ParticipantID, state.FileID)
	if err != nil {
		return presence.SelectionState{}, err
	}
	if state.Name == "" {
		state.Name = p.Name
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = now
	}
	s.touch(now)
	return s.presence.UpdateSelection(state), nil
}

func (s *liveSession) clearSelection(participantID, fileID string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.presenceTarget(participantID, fileID); err != nil {
		return false, err
	}
	cleared := s.presence.ClearSelection(fileID, participantID)
	if cleared {
		s.touch(now)
	}
	return cleared, nil
}
