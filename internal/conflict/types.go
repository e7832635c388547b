package conflict

import (
	"errors"
	"fmt"
	"time"

	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// Sentinel errors returned by the resolver.
var (
	// ErrConflict is returned when an incoming change competes with the
	// document's committed state (stale base version or overlapping range).
	ErrConflict = errors.New("conflicting change")

	// ErrPolicyRejected is returned when the session policy requires a human
	// to resolve a conflict before the change can be accepted.
	ErrPolicyRejected = errors.New("conflict awaiting resolution")

	// ErrNotFound is returned when a conflict ID is unknown.
	ErrNotFound = errors.New("conflict not found")

	// ErrAlreadyResolved is returned when resolving a conflict that has
	// already reached a terminal state.
	ErrAlreadyResolved = errors.New("conflict already resolved")

	// ErrInvalidPolicy is returned for an unrecognised policy name.
	ErrInvalidPolicy = errors.New("invalid conflict resolution policy")
)

// Policy selects how detected conflicts are handled.
type Policy string

const (
	// PolicyAuto accepts the most recently submitted change (last writer wins)
	// and records the conflict as resolved.
	PolicyAuto Policy = "auto"
	// PolicyManual rejects the change and blocks further edits to the file
	// until the conflict is resolved.
	PolicyManual Policy = "manual"
	// PolicyUserChoice rejects the change; other edits proceed.
	PolicyUserChoice Policy = "user_choice"
)

// ValidPolicies returns the accepted policy names.
func ValidPolicies() []Policy {
	return []Policy{PolicyAuto, PolicyManual, PolicyUserChoice}
}

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	for _, p := range ValidPolicies() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// Kind describes why a change was flagged.
type Kind string

const (
	// KindRangeOverlap: the change touches text modified since its base version.
	KindRangeOverlap Kind = "range_overlap"
	// KindStaleVersion: the change was computed against an older version,
	// even though its ranges do not overlap anything known to have changed.
	KindStaleVersion Kind = "stale_version"
	// KindContentMismatch: the change's OldText does not match the text
	// currently in its range.
	KindContentMismatch Kind = "content_mismatch"
)

// Status is the lifecycle state of a Conflict.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusSkipped  Status = "skipped"
)

// Outcome is the chosen result recorded on a resolution.
type Outcome string

const (
	OutcomeAcceptIncoming Outcome = "accept_incoming"
	OutcomeKeepCurrent    Outcome = "keep_current"
	OutcomeMerged         Outcome = "merged"
	OutcomeSkip           Outcome = "skip"
)

// SystemResolver is the ResolverID recorded on automatic resolutions.
const SystemResolver = "system"

// Commit is one entry in a document's change log: the batch that produced
// Version.
type Commit struct {
	Version       int                  `json:"version"`
	ParticipantID string               `json:"participant_id"`
	Operations    []textedit.Operation `json:"operations"`
	AppliedAt     time.Time            `json:"applied_at"`
}

// Resolution records how a conflict was settled.
type Resolution struct {
	Strategy   Policy    `json:"strategy"`
	Outcome    Outcome   `json:"outcome"`
	ResolverID string    `json:"resolver_id"`
	Note       string    `json:"note,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Conflict is a durable record of a detected incompatibility between a
// submitted batch and a file's committed state.
type Conflict struct {
	ID             string               `json:"id"`
	SessionID      string               `json:"session_id"`
	FileID         string               `json:"file_id"`
	Kind           Kind                 `json:"kind"`
	Status         Status               `json:"status"`
	SubmittedBy    string               `json:"submitted_by"`
	BaseVersion    int                  `json:"base_version"`
	CurrentVersion int                  `json:"current_version"`
	Incoming       []textedit.Operation `json:"incoming"`
	Competing      []textedit.Operation `json:"competing,omitempty"`
	DetectedAt     time.Time            `json:"detected_at"`
	Resolution     *Resolution          `json:"resolution,omitempty"`
}

// Terminal reports whether the conflict is resolved or skipped.
func (c Conflict) Terminal() bool {
	return c.Status == StatusResolved || c.Status == StatusSkipped
}

// Error is returned when a change is refused because of a conflict.
// It matches ErrConflict, ErrPolicyRejected, or both via errors.Is.
type Error struct {
	ConflictID string
	FileID     string
	Kind       Kind
	errs       []error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: conflict %s on file %s (%s)", e.errs[len(e.errs)-1], e.ConflictID, e.FileID, e.Kind)
}

// Unwrap exposes the sentinel errors this conflict matches.
func (e *Error) Unwrap() []error {
	return e.errs
}
