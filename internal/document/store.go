// Package document owns the shared files of one session: their content,
// version counter, change log, and edit locks.
//
// Every mutation of a file runs inside that file's serializer, a mutex held
// across the lock check, conflict detection, text application, version bump,
// and log append. Callers of ApplyChange on the same file therefore queue and
// commit one at a time; different files proceed in parallel.
package document

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/filelock"
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// Sentinel errors returned by Store operations.
var (
	ErrFileNotFound = errors.New("file not found")
	ErrFileExists   = errors.New("file already exists")
	ErrInvalidPath  = errors.New("invalid file path")
	ErrEmptyBatch   = errors.New("change batch is empty")

	// ErrFutureVersion is returned for a batch based on a version the file
	// has not reached yet.
	ErrFutureVersion = errors.New("base version is ahead of the file")
)

// DefaultLogSize is the number of commits kept per file for conflict detection.
const DefaultLogSize = 100

// Snapshot is a point-in-time copy of a shared file.
type Snapshot struct {
	ID             string            `json:"id"`
	Path           string            `json:"path"`
	Content        string            `json:"content"`
	Version        int               `json:"version"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
	LastModified   time.Time         `json:"last_modified"`
	LastModifiedBy string            `json:"last_modified_by"`
	LockedBy       string            `json:"locked_by,omitempty"`
	LockedAt       time.Time         `json:"locked_at,omitzero"`
	Log            []conflict.Commit `json:"log,omitempty"`
}

// Change is the outcome of ApplyChange.
type Change struct {
	// Snapshot is the file after the commit. Zero when nothing was committed.
	Snapshot Snapshot
	// Conflict is set when the batch was flagged, whether or not it applied.
	Conflict *conflict.Conflict
}

// Config holds the collaborators and limits of a Store.
type Config struct {
	SessionID string
	Resolver  *conflict.Resolver
	Locks     *filelock.Registry

	// LogSize bounds each file's change log (DefaultLogSize when zero).
	LogSize int
	// AllowDisjointMerge lets stale batches through when nothing they touch
	// changed since their base version.
	AllowDisjointMerge bool
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides file ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type file struct {
	mu             sync.Mutex // serializer
	id             string
	path           string
	content        string
	version        int
	createdBy      string
	createdAt      time.Time
	lastModified   time.Time
	lastModifiedBy string
	log            []conflict.Commit
}

// Store holds the files of one session.
type Store struct {
	mu            sync.RWMutex
	sessionID     string
	files         map[string]*file
	byPath        map[string]string // path -> file ID
	order         []string
	locks         *filelock.Registry
	resolver      *conflict.Resolver
	logSize       int
	allowDisjoint bool
	newID         func() string
	now           func() time.Time
}

// NewStore creates a Store. A nil Resolver defaults to a user_choice resolver
// and a nil Locks to an empty registry.
func NewStore(cfg Config, opts ...Option) *Store {
	if cfg.Resolver == nil {
		cfg.Resolver = conflict.NewResolver(cfg.SessionID, conflict.PolicyUserChoice)
	}
	if cfg.Locks == nil {
		cfg.Locks = filelock.NewRegistry()
	}
	if cfg.LogSize <= 0 {
		cfg.LogSize = DefaultLogSize
	}

	s := &Store{
		sessionID:     cfg.SessionID,
		files:         make(map[string]*file),
		byPath:        make(map[string]string),
		locks:         cfg.Locks,
		resolver:      cfg.Resolver,
		logSize:       cfg.LogSize,
		allowDisjoint: cfg.AllowDisjointMerge,
		newID:         uuid.NewString,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add creates a file at version 1.
func (s *Store) Add(path, content, participantID string) (Snapshot, error) {
	if path == "" {
		return Snapshot{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPath[path]; ok {
		return Snapshot{}, fmt.Errorf("%w: %s (%s)", ErrFileExists, path, id)
	}

	f := &file{
		id:             s.newID(),
		path:           path,
		content:        content,
		version:        1,
		createdBy:      participantID,
		createdAt:      now,
		lastModified:   now,
		lastModifiedBy: participantID,
	}
	s.files[f.id] = f
	s.byPath[path] = f.id
	s.order = append(s.order, f.id)
	return s.snapshotLocked(f), nil
}

// Get returns a snapshot of fileID.
func (s *Store) Get(fileID string) (Snapshot, error) {
	f, err := s.file(fileID)
	if err != nil {
		return Snapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return s.snapshotLocked(f), nil
}

// Exists reports whether fileID belongs to this store.
func (s *Store) Exists(fileID string) bool {
	_, err := s.file(fileID)
	return err == nil
}

// Path returns the path of fileID.
func (s *Store) Path(fileID string) (string, error) {
	f, err := s.file(fileID)
	if err != nil {
		return "", err
	}
	return f.path, nil
}

// ByPath returns the ID of the file at path.
func (s *Store) ByPath(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPath[path]
	return id, ok
}

// List returns snapshots of every file in creation order.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	files := make([]*file, 0, len(s.order))
	for _, id := range s.order {
		files = append(files, s.files[id])
	}
	s.mu.RUnlock()

	out := make([]Snapshot, 0, len(files))
	for _, f := range files {
		f.mu.Lock()
		out = append(out, s.snapshotLocked(f))
		f.mu.Unlock()
	}
	return out
}

// Find returns the files whose path matches a glob pattern, in creation
// order. "*" stops at "/"; use "**" to cross directories.
func (s *Store) Find(pattern string) ([]Snapshot, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	var out []Snapshot
	for _, snap := range s.List() {
		if g.Match(snap.Path) {
			out = append(out, snap)
		}
	}
	return out, nil
}

// ApplyChange commits ops to fileID as one batch and one version step.
//
// The batch is refused if the file is locked by someone else, if the
// conflict policy blocks the file, if it claims a base version the file has
// not reached, or if the resolver rejects it. Any
// operation that falls outside the content aborts the whole batch. On
// success the file's version increases by exactly one.
func (s *Store) ApplyChange(participantID, fileID string, ops []textedit.Operation) (Change, error) {
	if len(ops) == 0 {
		return Change{}, ErrEmptyBatch
	}
	batch := make([]textedit.Operation, len(ops))
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return Change{}, fmt.Errorf("operation %d: %w", i, err)
		}
		if op.BaseVersion < 1 {
			return Change{}, fmt.Errorf("operation %d: %w: base version %d", i, textedit.ErrInvalidOperation, op.BaseVersion)
		}
		op.ParticipantID = participantID
		batch[i] = op
	}

	f, err := s.file(fileID)
	if err != nil {
		return Change{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := s.locks.CheckAccess(participantID, fileID); err != nil {
		return Change{}, err
	}
	if err := s.resolver.Gate(fileID); err != nil {
		return Change{}, err
	}
	// A base the file never had is refused under every policy.
	if base := conflict.BaseVersion(batch); base > f.version {
		return Change{}, fmt.Errorf("%w: base %d, file %s is at %d", ErrFutureVersion, base, fileID, f.version)
	}

	decision := s.resolver.Evaluate(conflict.Check{
		FileID:             fileID,
		SubmittedBy:        participantID,
		CurrentVersion:     f.version,
		Lines:              textedit.SplitLines(f.content),
		Incoming:           batch,
		History:            f.log,
		AllowDisjointMerge: s.allowDisjoint,
	})
	if !decision.Accept {
		return Change{Conflict: decision.Conflict}, decision.Err()
	}

	var change Change
	content, applyErr := textedit.Apply(f.content, batch)
	if decision.Conflict != nil {
		settled, err := s.resolver.Settle(decision.Conflict.ID, applyErr)
		if err == nil {
			change.Conflict = &settled
		} else {
			change.Conflict = decision.Conflict
		}
	}
	if applyErr != nil {
		return change, applyErr
	}

	now := s.now()
	f.content = content
	f.version++
	f.lastModified = now
	f.lastModifiedBy = participantID
	f.log = append(f.log, conflict.Commit{
		Version:       f.version,
		ParticipantID: participantID,
		Operations:    batch,
		AppliedAt:     now,
	})
	if over := len(f.log) - s.logSize; over > 0 {
		f.log = append([]conflict.Commit(nil), f.log[over:]...)
	}

	change.Snapshot = s.snapshotLocked(f)
	return change, nil
}

// Lock takes the edit lock on fileID for participantID. acquired is false
// when the participant already held it.
func (s *Store) Lock(participantID, fileID string) (acquired bool, err error) {
	f, err := s.file(fileID)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	return s.locks.Acquire(participantID, fileID)
}

// Unlock releases participantID's edit lock on fileID.
func (s *Store) Unlock(participantID, fileID string) error {
	f, err := s.file(fileID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	return s.locks.Release(participantID, fileID)
}

// ReleaseAll drops every lock participantID holds and returns the released
// file IDs, sorted. The serializers of the affected files are held while the
// locks are dropped.
func (s *Store) ReleaseAll(participantID string) []string {
	var held []*file
	for _, fileID := range s.locks.Held(participantID) {
		if f, err := s.file(fileID); err == nil {
			f.mu.Lock()
			held = append(held, f)
		}
	}
	defer func() {
		for _, f := range held {
			f.mu.Unlock()
		}
	}()
	return s.locks.ReleaseAll(participantID)
}

// Restore reloads files from persisted snapshots. Files whose ID is already
// present are left untouched.
func (s *Store) Restore(snaps []Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var locks []filelock.Lock
	for _, snap := range snaps {
		if _, ok := s.files[snap.ID]; ok {
			continue
		}
		f := &file{
			id:             snap.ID,
			path:           snap.Path,
			content:        snap.Content,
			version:        snap.Version,
			createdBy:      snap.CreatedBy,
			createdAt:      snap.CreatedAt,
			lastModified:   snap.LastModified,
			lastModifiedBy: snap.LastModifiedBy,
			log:            append([]conflict.Commit(nil), snap.Log...),
		}
		s.files[f.id] = f
		s.byPath[f.path] = f.id
		s.order = append(s.order, f.id)
		if snap.LockedBy != "" {
			locks = append(locks, filelock.Lock{FileID: snap.ID, HolderID: snap.LockedBy, LockedAt: snap.LockedAt})
		}
	}
	s.locks.Restore(locks)
}

func (s *Store) file(fileID string) (*file, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	return f, nil
}

// snapshotLocked copies f. The caller must hold f.mu or the store write lock
// before f is published.
func (s *Store) snapshotLocked(f *file) Snapshot {
	lock, _ := s.locks.Get(f.id)
	return Snapshot{
		ID:             f.id,
		Path:           f.path,
		Content:        f.content,
		Version:        f.version,
		CreatedBy:      f.createdBy,
		CreatedAt:      f.createdAt,
		LastModified:   f.lastModified,
		LastModifiedBy: f.lastModifiedBy,
		LockedBy:       lock.HolderID,
		LockedAt:       lock.LockedAt,
		Log:            append([]conflict.Commit(nil), f.log...),
	}
}
