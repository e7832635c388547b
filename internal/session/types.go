package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/document"
)

// Permission is a capability a participant holds within one session.
type Permission string

const (
	PermView   Permission = "view"
	PermEdit   Permission = "edit"
	PermInvite Permission = "invite"
	PermManage Permission = "manage"
	PermChat   Permission = "chat"
)

// AllPermissions returns every permission, in the order they are reported.
func AllPermissions() []Permission {
	return []Permission{PermView, PermEdit, PermInvite, PermManage, PermChat}
}

// ParsePermission validates a permission name.
func ParsePermission(s string) (Permission, error) {
	for _, p := range AllPermissions() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
}

// ParticipantStatus is the presence status shown next to a participant.
type ParticipantStatus string

const (
	StatusOnline  ParticipantStatus = "online"
	StatusAway    ParticipantStatus = "away"
	StatusBusy    ParticipantStatus = "busy"
	StatusOffline ParticipantStatus = "offline"
)

// Valid reports whether s is a known participant status.
func (s ParticipantStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// Participant is a member of a session. Identity is owned by the caller;
// the engine only updates Status and LastSeen.
type Participant struct {
	ID       string            `json:"id" yaml:"id"`
	Name     string            `json:"name" yaml:"name"`
	Status   ParticipantStatus `json:"status" yaml:"status"`
	LastSeen time.Time         `json:"last_seen" yaml:"-"`
	JoinedAt time.Time         `json:"joined_at" yaml:"-"`

	// Permissions is the scope granted by the identity provider. It is
	// merged into the session's permission sets on join and then cleared;
	// the session holds the authoritative sets afterwards.
	Permissions []Permission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// Settings are the per-session knobs. Zero fields take the engine defaults
// when a session is created.
type Settings struct {
	// AutoSave persists the session after every mutation. Nil means default.
	AutoSave           *bool           `json:"auto_save,omitempty" yaml:"auto_save,omitempty"`
	ConflictResolution conflict.Policy `json:"conflict_resolution,omitempty" yaml:"conflict_resolution,omitempty"`
	MaxParticipants    int             `json:"max_participants,omitempty" yaml:"max_participants,omitempty"`
	SessionTimeout     time.Duration   `json:"session_timeout,omitempty" yaml:"session_timeout,omitempty"`
	OpLogSize          int             `json:"op_log_size,omitempty" yaml:"op_log_size,omitempty"`
	AllowDisjointMerge bool            `json:"allow_disjoint_merge,omitempty" yaml:"allow_disjoint_merge,omitempty"`
	// ReadOnlyPatterns are path globs that nobody may edit.
	ReadOnlyPatterns []string `json:"read_only_patterns,omitempty" yaml:"read_only_patterns,omitempty"`
}

// DefaultSettings returns the settings used when nothing is overridden.
func DefaultSettings() Settings {
	autoSave := true
	return Settings{
		AutoSave:           &autoSave,
		ConflictResolution: conflict.PolicyUserChoice,
		MaxParticipants:    10,
		SessionTimeout:     time.Hour,
		OpLogSize:          document.DefaultLogSize,
	}
}

// Merge returns s with every non-zero field of over applied on top.
func (s Settings) Merge(over Settings) Settings {
	if over.AutoSave != nil {
		v := *over.AutoSave
		s.AutoSave = &v
	}
	if over.ConflictResolution != "" {
		s.ConflictResolution = over.ConflictResolution
	}
	if over.MaxParticipants != 0 {
		s.MaxParticipants = over.MaxParticipants
	}
	if over.SessionTimeout != 0 {
		s.SessionTimeout = over.SessionTimeout
	}
	if over.OpLogSize != 0 {
		s.OpLogSize = over.OpLogSize
	}
	if over.AllowDisjointMerge {
		s.AllowDisjointMerge = true
	}
	if len(over.ReadOnlyPatterns) > 0 {
		s.ReadOnlyPatterns = slices.Clone(over.ReadOnlyPatterns)
	}
	return s
}

// AutoSaveEnabled reports whether the session persists after each mutation.
func (s Settings) AutoSaveEnabled() bool {
	return s.AutoSave == nil || *s.AutoSave
}

// Validate checks merged settings.
func (s Settings) Validate() error {
	if s.MaxParticipants < 1 {
		return fmt.Errorf("%w: max participants must be at least 1, got %d", ErrInvalidSettings, s.MaxParticipants)
	}
	if s.SessionTimeout < 0 {
		return fmt.Errorf("%w: negative session timeout %s", ErrInvalidSettings, s.SessionTimeout)
	}
	if s.OpLogSize < 0 {
		return fmt.Errorf("%w: negative op log size %d", ErrInvalidSettings, s.OpLogSize)
	}
	if _, err := conflict.ParsePolicy(string(s.ConflictResolution)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if _, err := compilePatterns(s.ReadOnlyPatterns); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("read-only pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Snapshot is the persisted form of a session. Presence is ephemeral and is
// not part of it.
type Snapshot struct {
	ID           string                  `json:"id"`
	Owner        string                  `json:"owner"`
	Participants []Participant           `json:"participants"`
	Permissions  map[Permission][]string `json:"permissions"`
	Status       Status                  `json:"status"`
	CreatedAt    time.Time               `json:"created_at"`
	LastActivity time.Time               `json:"last_activity"`
	Settings     Settings                `json:"settings"`
	Files        []document.Snapshot     `json:"files,omitempty"`
	Conflicts    []conflict.Conflict     `json:"conflicts,omitempty"`
}

// Member returns the participant with the given ID.
func (s Snapshot) Member(participantID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == participantID {
			return p, true
		}
	}
	return Participant{}, false
}

// Has reports whether participantID holds perm in the snapshot.
func (s Snapshot) Has(participantID string, perm Permission) bool {
	return slices.Contains(s.Permissions[perm], participantID)
}

// Persister stores session snapshots. LoadSession returns an error matching
// ErrSessionNotFound for unknown IDs.
type Persister interface {
	LoadSession(ctx context.Context, sessionID string) (Snapshot, error)
	SaveSession(ctx context.Context, snap Snapshot) error
}
