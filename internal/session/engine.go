// Package session is the collaboration engine: it owns live sessions, their
// rosters and permissions, and routes document, lock, presence, and conflict
// operations to the per-session components.
//
// Every mutating operation updates the session's last activity, publishes
// exactly one notification through the configured event.Publisher after all
// locks are released, and hands a snapshot to the Persister when the session
// auto-saves. Persistence failures are logged and never roll back the
// in-memory state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/document"
	"github.com/Iron-Ham/pairpad/internal/event"
	"github.com/Iron-Ham/pairpad/internal/logging"
	"github.com/Iron-Ham/pairpad/internal/metrics"
	"github.com/Iron-Ham/pairpad/internal/presence"
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// Engine hosts live sessions. It is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession

	publisher event.Publisher
	persister Persister
	logger    *logging.Logger
	metrics   *metrics.Metrics
	defaults  Settings
	now       func() time.Time
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the broadcast hub. Defaults to event.Discard.
func WithPublisher(p event.Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithPersister sets the session store. Without one nothing is saved.
func WithPersister(p Persister) Option {
	return func(e *Engine) {
		e.persister = p
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithDefaults overrides the settings new sessions start from.
func WithDefaults(s Settings) Option {
	return func(e *Engine) {
		e.defaults = DefaultSettings().Merge(s)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator overrides session, file, and conflict ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		sessions:  make(map[string]*liveSession),
		publisher: event.Discard,
		logger:    logging.NopLogger(),
		defaults:  DefaultSettings(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) session(sessionID string) (*liveSession, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// publish hands a notification to the hub. Failures are logged, not returned.
func (e *Engine) publish(ctx context.Context, sessionID string, eventType event.Type, payload any) {
	err := e.publisher.Publish(ctx, sessionID, eventType, payload)
	e.metrics.RecordPublish(string(eventType), err)
	if err != nil {
		e.logger.WithSession(sessionID).Warn("broadcast failed",
			"event", string(eventType),
			"error", err.Error(),
		)
	}
}

// persist saves s if it auto-saves and a Persister is configured.
func (e *Engine) persist(ctx context.Context, s *liveSession) {
	if e.persister == nil || !s.settings.AutoSaveEnabled() {
		return
	}
	if err := e.save(ctx, s); err != nil {
		e.logger.WithSession(s.id).Warn("failed to persist session", "error", err.Error())
	}
}

func (e *Engine) save(ctx context.Context, s *liveSession) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	snap := s.snapshot()
	s.mu.RUnlock()

	if err := e.persister.SaveSession(ctx, snap); err != nil {
		e.metrics.RecordPersistFailure()
		return fmt.Errorf("save session %s: %w", s.id, err)
	}
	return nil
}

// CreateSession starts a session owned by owner, who becomes its only
// participant with every permission. settings are merged over the engine
// defaults.
func (e *Engine) CreateSession(ctx context.Context, owner Participant, settings Settings) (string, error) {
	if owner.ID == "" {
		return "", fmt.Errorf("%w: owner has no ID", ErrInvalidParticipant)
	}
	merged := e.defaults.Merge(settings)
	if err := merged.Validate(); err != nil {
		return "", err
	}
	readOnly, err := compilePatterns(merged.ReadOnlyPatterns)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	now := e.now()
	id := e.newID()
	s := newLiveSession(id, merged, readOnly, e.now, e.newID)
	s.createdAt = now
	s.touch(now)

	owner.Permissions = nil
	owner.JoinedAt = now
	owner.LastSeen = now
	if !owner.Status.Valid() {
		owner.Status = StatusOnline
	}
	s.owner = owner.ID
	s.participants = []Participant{owner}
	s.grant(owner.ID, AllPermissions()...)

	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()

	e.metrics.SessionStarted()
	e.metrics.ParticipantsChanged(1)
	e.logger.WithSession(id).Info("session created",
		"owner", owner.ID,
		"conflict_resolution", string(merged.ConflictResolution),
		"max_participants", merged.MaxParticipants,
	)

	e.publish(ctx, id, event.SessionCreated, SessionInfo{Owner: owner.ID, Settings: merged})
	e.persist(ctx, s)
	return id, nil
}

// JoinSession adds p to the session. It fails when the session is not
// active, is full, or p holds no view permission and is not the owner.
// p.Permissions carries the scope granted by the identity provider.
// Rejoining as a current member is a successful no-op; the owner rejoining
// regains every permission. If the owner left an otherwise empty session,
// the first participant to join becomes owner.
func (e *Engine) JoinSession(ctx context.Context, sessionID string, p Participant) error {
	if p.ID == "" {
		return fmt.Errorf("%w: participant has no ID", ErrInvalidParticipant)
	}
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}

	joined, changed, err := s.join(p, e.now())
	if err != nil {
		e.logger.WithSession(sessionID).WithParticipant(p.ID).Debug("join refused", "error", err.Error())
		return err
	}
	if !changed {
		return nil
	}

	e.metrics.ParticipantsChanged(1)
	log := e.logger.WithSession(sessionID).WithParticipant(p.ID)
	log.Info("participant joined", "permissions", joined.Permissions)
	if joined.NewOwner != "" {
		log.Info("ownership transferred", "new_owner", joined.NewOwner)
	}
	e.publish(ctx, sessionID, event.UserJoined, joined)
	e.persist(ctx, s)
	return nil
}

// LeaveSession removes a participant from the roster and every permission
// set, purges their cursors and selections, and releases their file locks.
// If the owner leaves while others remain, the oldest remaining joiner
// becomes owner.
func (e *Engine) LeaveSession(ctx context.Context, sessionID, participantID string) error {
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}

	left, err := s.leave(participantID, e.now())
	if err != nil {
		return err
	}

	e.metrics.ParticipantsChanged(-1)
	log := e.logger.WithSession(sessionID).WithParticipant(participantID)
	log.Info("participant left",
		"released_locks", len(left.ReleasedLocks),
		"cleared_files", len(left.ClearedFiles),
	)
	if left.NewOwner != "" {
		log.Info("ownership transferred", "new_owner", left.NewOwner)
	}
	e.publish(ctx, sessionID, event.UserLeft, left)
	e.persist(ctx, s)
	return nil
}

// SetParticipantStatus updates a member's presence status.
func (e *Engine) SetParticipantStatus(ctx context.Context, sessionID, participantID string, status ParticipantStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidParticipant, status)
	}
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}

	changed, err := s.setParticipantStatus(participantID, status, e.now())
	if err != nil || !changed {
		return err
	}
	e.publish(ctx, sessionID, event.UserStatus, StatusUpdate{ParticipantID: participantID, Status: status})
	e.persist(ctx, s)
	return nil
}

// GrantPermission gives targetID perm. actorID needs manage.
func (e *Engine) GrantPermission(ctx context.Context, sessionID, actorID, targetID string, perm Permission) error {
	return e.changePermission(ctx, sessionID, actorID, targetID, perm, true)
}

// RevokePermission takes perm from targetID. actorID needs manage. The
// owner's permissions cannot be revoked.
func (e *Engine) RevokePermission(ctx context.Context, sessionID, actorID, targetID string, perm Permission) error {
	return e.changePermission(ctx, sessionID, actorID, targetID, perm, false)
}

func (e *Engine) changePermission(ctx context.Context, sessionID, actorID, targetID string, perm Permission, grant bool) error {
	if _, err := ParsePermission(string(perm)); err != nil {
		return err
	}
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}

	update, changed, err := s.changePermission(actorID, targetID, perm, grant, e.now())
	if err != nil || !changed {
		return err
	}
	e.logger.WithSession(sessionID).WithParticipant(targetID).Info("permissions changed",
		"by", actorID,
		"permission", string(perm),
		"granted", grant,
	)
	e.publish(ctx, sessionID, event.PermissionsChanged, update)
	e.persist(ctx, s)
	return nil
}

// PauseSession stops joins and document changes until ResumeSession.
func (e *Engine) PauseSession(ctx context.Context, sessionID, actorID string) error {
	return e.transition(ctx, sessionID, actorID, StatusPaused)
}

// ResumeSession reactivates a paused session.
func (e *Engine) ResumeSession(ctx context.Context, sessionID, actorID string) error {
	return e.transition(ctx, sessionID, actorID, StatusActive)
}

// EndSession ends the session. Every later mutation fails with
// ErrSessionEnded.
func (e *Engine) EndSession(ctx context.Context, sessionID, actorID string) error {
	return e.transition(ctx, sessionID, actorID, StatusEnded)
}

func (e *Engine) transition(ctx context.Context, sessionID, actorID string, to Status) error {
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}

	changed, err := s.transition(actorID, to, e.now())
	if err != nil || !changed {
		return err
	}
	if to == StatusEnded {
		e.metrics.SessionEnded()
		e.metrics.ParticipantsChanged(-s.rosterSize())
	}
	e.logger.WithSession(sessionID).Info("session status changed", "status", string(to), "by", actorID)
	e.publish(ctx, sessionID, event.SessionStatus, StatusChange{Status: to, By: actorID})
	e.persist(ctx, s)
	return nil
}

// ExpireIdle ends every session whose last activity is older than its
// timeout as of now, and returns their IDs sorted. The engine never calls
// it itself; a scheduler outside the engine decides when to.
func (e *Engine) ExpireIdle(ctx context.Context, now time.Time) []string {
	e.mu.RLock()
	candidates := make([]*liveSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		candidates = append(candidates, s)
	}
	e.mu.RUnlock()

	var expired []string
	for _, s := range candidates {
		if !s.expire(now) {
			continue
		}
		expired = append(expired, s.id)
		e.metrics.SessionEnded()
		e.metrics.ParticipantsChanged(-s.rosterSize())
		e.logger.WithSession(s.id).Info("session expired", "last_activity", s.lastActive())
		e.publish(ctx, s.id, event.SessionStatus, StatusChange{Status: StatusEnded, Reason: "idle timeout"})
		e.persist(ctx, s)
	}
	sort.Strings(expired)
	return expired
}

// ResolveConflict records res on a conflict of the session. res.ResolverID
// must hold edit permission. Under the manual policy this unblocks the file.
func (e *Engine) ResolveConflict(ctx context.Context, sessionID, conflictID string, res conflict.Resolution) (conflict.Conflict, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return conflict.Conflict{}, err
	}

	c, err := s.resolveConflict(conflictID, res, e.now())
	if err != nil {
		return conflict.Conflict{}, err
	}
	e.logger.WithSession(sessionID).WithFile(c.FileID).Info("conflict resolved",
		"conflict_id", c.ID,
		"status", string(c.Status),
		"outcome", string(c.Resolution.Outcome),
		"resolver", c.Resolution.ResolverID,
	)
	e.publish(ctx, sessionID, event.ConflictResolved, c)
	e.persist(ctx, s)
	return c, nil
}

// AddFile creates a shared file at version 1. Requires edit permission.
func (e *Engine) AddFile(ctx context.Context, sessionID, participantID, path, content string) (document.Snapshot, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return document.Snapshot{}, err
	}

	snap, err := s.addFile(participantID, path, content, e.now())
	if err != nil {
		return document.Snapshot{}, err
	}
	e.logger.WithSession(sessionID).WithParticipant(participantID).WithFile(snap.ID).Info("file added", "path", path)
	e.publish(ctx, sessionID, event.FileAdded, FileAdded{
		FileID:    snap.ID,
		Path:      snap.Path,
		Content:   snap.Content,
		Version:   snap.Version,
		CreatedBy: snap.CreatedBy,
	})
	e.persist(ctx, s)
	return snap, nil
}

// ApplyChange commits ops to a file as one atomic batch. It requires edit
// permission and that the file is unlocked or locked by participantID.
//
// A batch that conflicts with the committed state always produces a durable
// conflict record. Under the auto policy the batch is still applied and the
// returned Change carries the resolved record; under manual and user_choice
// it fails with an error matching ErrConflict and ErrConflictPolicyRejected.
func (e *Engine) ApplyChange(ctx context.Context, sessionID, participantID, fileID string, ops []textedit.Operation) (document.Change, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return document.Change{}, err
	}

	change, err := s.applyChange(participantID, fileID, ops, e.now())
	log := e.logger.WithSession(sessionID).WithParticipant(participantID).WithFile(fileID)

	if c := change.Conflict; c != nil {
		e.metrics.RecordConflict(string(c.Kind), string(s.settings.ConflictResolution))
		log.Warn("conflict detected",
			"conflict_id", c.ID,
			"kind", string(c.Kind),
			"status", string(c.Status),
			"base_version", c.BaseVersion,
			"current_version", c.CurrentVersion,
		)
	}

	switch {
	case err == nil:
		e.metrics.RecordChange(change.Conflict != nil)
		log.Debug("change applied", "version", change.Snapshot.Version, "operations", len(ops))
		e.publish(ctx, sessionID, event.FileUpdated, fileUpdate(participantID, change))
		e.persist(ctx, s)
		return change, nil

	case change.Conflict != nil:
		e.metrics.RecordRejection("conflict")
		e.publish(ctx, sessionID, event.ConflictDetected, *change.Conflict)
		e.persist(ctx, s)
		return change, err

	default:
		e.metrics.RecordRejection(rejectionReason(err))
		log.Debug("change refused", "error", err.Error())
		return change, err
	}
}

func fileUpdate(participantID string, change document.Change) FileUpdate {
	snap := change.Snapshot
	update := FileUpdate{
		FileID:        snap.ID,
		Path:          snap.Path,
		Version:       snap.Version,
		ParticipantID: participantID,
		Content:       snap.Content,
		Conflict:      change.Conflict,
	}
	if n := len(snap.Log); n > 0 {
		update.Operations = snap.Log[n-1].Operations
	}
	return update
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrFileLocked):
		return "locked"
	case errors.Is(err, ErrConflictPolicyRejected):
		return "awaiting_resolution"
	case errors.Is(err, ErrInvalidRange), errors.Is(err, textedit.ErrInvalidOperation), errors.Is(err, document.ErrEmptyBatch),
		errors.Is(err, ErrFutureVersion):
		return "invalid"
	case errors.Is(err, ErrPermissionDenied):
		return "permission"
	case errors.Is(err, ErrSessionEnded), errors.Is(err, ErrSessionInactive):
		return "inactive"
	default:
		return "other"
	}
}

// LockFile takes the edit lock on a file. Requires edit permission.
// Locking a file one already holds succeeds without a notification.
func (e *Engine) LockFile(ctx context.Context, sessionID, participantID, fileID string) error {
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}

	acquired, err := s.lockFile(participantID, fileID, e.now())
	if err != nil {
		if errors.Is(err, ErrFileLocked) {
			e.metrics.RecordLockContention()
		}
		return err
	}
	if !acquired {
		return nil
	}
	e.logger.WithSession(sessionID).WithParticipant(participantID).WithFile(fileID).Debug("file locked")
	e.publish(ctx, sessionID, event.FileLocked, LockChange{FileID: fileID, ParticipantID: participantID})
	e.persist(ctx, s)
	return nil
}

// UnlockFile releases participantID's lock on a file. Only the holder can
// unlock.
func (e *Engine) UnlockFile(ctx context.Context, sessionID, participantID, fileID string) error {
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}

	if err := s.unlockFile(participantID, fileID, e.now()); err != nil {
		return err
	}
	e.logger.WithSession(sessionID).WithParticipant(participantID).WithFile(fileID).Debug("file unlocked")
	e.publish(ctx, sessionID, event.FileUnlocked, LockChange{FileID: fileID, ParticipantID: participantID})
	e.persist(ctx, s)
	return nil
}

// UpdateCursor stores a participant's cursor, replacing their previous one
// in the same file, and broadcasts it. Presence is not persisted.
func (e *Engine) UpdateCursor(ctx context.Context, sessionID string, state presence.CursorState) (presence.CursorState, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return presence.CursorState{}, err
	}

	stored, err := s.updateCursor(state, e.now())
	if err != nil {
		return presence.CursorState{}, err
	}
	e.publish(ctx, sessionID, event.CursorUpdated, stored)
	return stored, nil
}

// UpdateSelection stores a participant's selection, replacing their
// previous one in the same file, and broadcasts it.
func (e *Engine) UpdateSelection(ctx context.Context, sessionID string, state presence.SelectionState) (presence.SelectionState, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return presence.SelectionState{}, err
	}

	stored, err := s.updateSelection(state, e.now())
	if err != nil {
		return presence.SelectionState{}, err
	}
	e.publish(ctx, sessionID, event.SelectionUpdated, stored)
	return stored, nil
}

// ClearSelection drops a participant's selection in a file. Clearing a
// selection that does not exist succeeds silently.
func (e *Engine) ClearSelection(ctx context.Context, sessionID, participantID, fileID string) error {
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}

	cleared, err := s.clearSelection(participantID, fileID, e.now())
	if err != nil || !cleared {
		return err
	}
	e.publish(ctx, sessionID, event.SelectionUpdated, SelectionCleared{
		FileID:        fileID,
		ParticipantID: participantID,
		Cleared:       true,
	})
	return nil
}
