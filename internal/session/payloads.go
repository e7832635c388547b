package session

import (
	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// Payloads carried by the notifications the engine publishes. Each is a
// plain value so any Publisher can serialize it.

// SessionInfo accompanies session_created.
type SessionInfo struct {
	Owner    string   `json:"owner"`
	Settings Settings `json:"settings"`
}

// StatusChange accompanies session_status.
type StatusChange struct {
	Status Status `json:"status"`
	By     string `json:"by,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Joined accompanies user_joined.
type Joined struct {
	Participant Participant  `json:"participant"`
	Permissions []Permission `json:"permissions"`
	// NewOwner is set when the joiner took over a session left without
	// members.
	NewOwner string `json:"new_owner,omitempty"`
}

// Left accompanies user_left.
type Left struct {
	ParticipantID string   `json:"participant_id"`
	NewOwner      string   `json:"new_owner,omitempty"`
	ReleasedLocks []string `json:"released_locks,omitempty"`
	ClearedFiles  []string `json:"cleared_files,omitempty"`
}

// StatusUpdate accompanies user_status.
type StatusUpdate struct {
	ParticipantID string            `json:"participant_id"`
	Status        ParticipantStatus `json:"status"`
}

// PermissionUpdate accompanies permissions_changed.
type PermissionUpdate struct {
	ParticipantID string       `json:"participant_id"`
	ChangedBy     string       `json:"changed_by"`
	Permissions   []Permission `json:"permissions"`
}

// FileAdded accompanies file_added.
type FileAdded struct {
	FileID    string `json:"file_id"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Version   int    `json:"version"`
	CreatedBy string `json:"created_by"`
}

// FileUpdate accompanies file_updated.
type FileUpdate struct {
	FileID        string               `json:"file_id"`
	Path          string               `json:"path"`
	Version       int                  `json:"version"`
	ParticipantID string               `json:"participant_id"`
	Operations    []textedit.Operation `json:"operations"`
	Content       string               `json:"content"`
	// Conflict is set when the change won a conflict under the auto policy.
	Conflict *conflict.Conflict `json:"conflict,omitempty"`
}

// LockChange accompanies file_locked and file_unlocked.
type LockChange struct {
	FileID        string `json:"file_id"`
	ParticipantID string `json:"participant_id"`
}

// SelectionCleared accompanies selection_updated when a selection is dropped.
type SelectionCleared struct {
	FileID        string `json:"file_id"`
	ParticipantID string `json:"participant_id"`
	Cleared       bool   `json:"cleared"`
}
