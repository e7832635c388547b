// Package scenario scripts a collaboration session in YAML and replays it
// against a session.Engine. Scenarios drive the replay command and serve as
// readable end-to-end fixtures.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/session"
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// ErrInvalidScenario is returned for scenarios that cannot be replayed.
var ErrInvalidScenario = errors.New("invalid scenario")

// Action names a step.
type Action string

const (
	ActionJoin           Action = "join"
	ActionLeave          Action = "leave"
	ActionStatus         Action = "status"
	ActionGrant          Action = "grant"
	ActionRevoke         Action = "revoke"
	ActionPause          Action = "pause"
	ActionResume         Action = "resume"
	ActionEnd            Action = "end"
	ActionAddFile        Action = "add_file"
	ActionEdit           Action = "edit"
	ActionInsert         Action = "insert"
	ActionLock           Action = "lock"
	ActionUnlock         Action = "unlock"
	ActionCursor         Action = "cursor"
	ActionSelect         Action = "select"
	ActionClearSelection Action = "clear_selection"
	ActionResolve        Action = "resolve"
)

// Actions returns every supported action.
func Actions() []Action {
	return []Action{
		ActionJoin, ActionLeave, ActionStatus, ActionGrant, ActionRevoke,
		ActionPause, ActionResume, ActionEnd, ActionAddFile, ActionEdit,
		ActionInsert, ActionLock, ActionUnlock, ActionCursor, ActionSelect,
		ActionClearSelection, ActionResolve,
	}
}

// Scenario is a scripted session: an owner, the settings the session is
// created with, known participants, and the steps to replay in order.
type Scenario struct {
	Name         string                `yaml:"name"`
	Settings     session.Settings      `yaml:"settings"`
	Owner        session.Participant   `yaml:"owner"`
	Participants []session.Participant `yaml:"participants"`
	Steps        []Step                `yaml:"steps"`
}

// Step is one engine call. Which fields matter depends on Action.
type Step struct {
	As     string `yaml:"as"`
	Action Action `yaml:"action"`

	// Path addresses a file added earlier in the scenario.
	Path    string `yaml:"path,omitempty"`
	Content string `yaml:"content,omitempty"`

	// Ops is the batch for edit. insert is a shorthand for a single insert
	// at At with Text.
	Ops  []textedit.Operation `yaml:"ops,omitempty"`
	At   textedit.Position    `yaml:"at,omitempty"`
	Text string               `yaml:"text,omitempty"`
	Base int                  `yaml:"base,omitempty"`

	// Range is the selection for select.
	Range textedit.Range `yaml:"range,omitempty"`

	Status     session.ParticipantStatus `yaml:"status,omitempty"`
	Target     string                    `yaml:"target,omitempty"`
	Permission session.Permission        `yaml:"permission,omitempty"`

	// Outcome and Note resolve the oldest pending conflict on Path.
	Outcome conflict.Outcome `yaml:"outcome,omitempty"`
	Note    string           `yaml:"note,omitempty"`

	// Expect names the error the step must fail with, e.g. file_locked.
	// Empty means the step must succeed.
	Expect string `yaml:"expect,omitempty"`
}

// Parse decodes a scenario. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Validate checks the scenario's shape before anything is replayed.
func (sc *Scenario) Validate() error {
	if sc.Owner.ID == "" {
		return fmt.Errorf("%w: owner.id is required", ErrInvalidScenario)
	}
	known := map[string]bool{sc.Owner.ID: true}
	for i, p := range sc.Participants {
		if p.ID == "" {
			return fmt.Errorf("%w: participants[%d] has no id", ErrInvalidScenario, i)
		}
		known[p.ID] = true
	}

	for i, st := range sc.Steps {
		if !slices.Contains(Actions(), st.Action) {
			return fmt.Errorf("%w: steps[%d]: unknown action %q", ErrInvalidScenario, i, st.Action)
		}
		if !known[st.As] {
			return fmt.Errorf("%w: steps[%d]: unknown participant %q", ErrInvalidScenario, i, st.As)
		}
		if st.Expect != "" {
			if _, ok := expectations[st.Expect]; !ok {
				return fmt.Errorf("%w: steps[%d]: unknown expectation %q", ErrInvalidScenario, i, st.Expect)
			}
		}
		switch st.Action {
		case ActionAddFile, ActionEdit, ActionInsert, ActionLock, ActionUnlock,
			ActionCursor, ActionSelect, ActionClearSelection, ActionResolve:
			if st.Path == "" {
				return fmt.Errorf("%w: steps[%d]: %s needs a path", ErrInvalidScenario, i, st.Action)
			}
		case ActionGrant, ActionRevoke:
			if st.Target == "" || st.Permission == "" {
				return fmt.Errorf("%w: steps[%d]: %s needs target and permission", ErrInvalidScenario, i, st.Action)
			}
		}
		if st.Action == ActionEdit && len(st.Ops) == 0 {
			return fmt.Errorf("%w: steps[%d]: edit needs ops", ErrInvalidScenario, i)
		}
	}
	return nil
}

// participant returns the scenario's record for id.
func (sc *Scenario) participant(id string) session.Participant {
	if id == sc.Owner.ID {
		return sc.Owner
	}
	for _, p := range sc.Participants {
		if p.ID == id {
			return p
		}
	}
	return session.Participant{ID: id}
}

// expectations maps the names usable in Step.Expect to engine errors.
var expectations = map[string]error{
	"permission_denied":   session.ErrPermissionDenied,
	"session_full":        session.ErrSessionFull,
	"session_ended":       session.ErrSessionEnded,
	"session_inactive":    session.ErrSessionInactive,
	"participant_missing": session.ErrParticipantNotFound,
	"file_not_found":      session.ErrFileNotFound,
	"file_exists":         session.ErrFileExists,
	"file_locked":         session.ErrFileLocked,
	"not_lock_holder":     session.ErrNotLockHolder,
	"not_locked":          session.ErrFileNotLocked,
	"invalid_range":       session.ErrInvalidRange,
	"future_version":      session.ErrFutureVersion,
	"conflict":            session.ErrConflict,
	"awaiting_resolution": session.ErrConflictPolicyRejected,
	"conflict_not_found":  session.ErrConflictNotFound,
}

// Expectations returns the names accepted by Step.Expect.
func Expectations() []string {
	names := make([]string, 0, len(expectations))
	for name := range expectations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
