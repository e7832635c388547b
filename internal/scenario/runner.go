package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/document"
	"github.com/Iron-Ham/pairpad/internal/logging"
	"github.com/Iron-Ham/pairpad/internal/presence"
	"github.com/Iron-Ham/pairpad/internal/session"
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// StepResult records what one step did.
type StepResult struct {
	Index  int    `yaml:"index"`
	As     string `yaml:"as"`
	Action Action `yaml:"action"`
	Path   string `yaml:"path,omitempty"`
	// Version is the file version after the step, when the step targets a file.
	Version int    `yaml:"version,omitempty"`
	Error   string `yaml:"error,omitempty"`
}

// Result is the outcome of a replay.
type Result struct {
	Name      string              `yaml:"name,omitempty"`
	SessionID string              `yaml:"session_id"`
	Steps     []StepResult        `yaml:"steps"`
	Files     []document.Snapshot `yaml:"-"`
	Conflicts []conflict.Conflict `yaml:"-"`
}

// MismatchError reports a step whose outcome differs from its expectation.
type MismatchError struct {
	Index  int
	Action Action
	Want   string
	Got    error
}

func (e *MismatchError) Error() string {
	want := e.Want
	if want == "" {
		want = "success"
	}
	got := "success"
	if e.Got != nil {
		got = e.Got.Error()
	}
	return fmt.Sprintf("step %d (%s): want %s, got %s", e.Index, e.Action, want, got)
}

func (e *MismatchError) Unwrap() error {
	return e.Got
}

// Runner replays scenarios against an engine.
type Runner struct {
	engine *session.Engine
	logger *logging.Logger
}

// NewRunner creates a Runner. A nil logger discards output.
func NewRunner(engine *session.Engine, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{engine: engine, logger: logger}
}

// replay is the per-run state.
type replay struct {
	*Runner
	sc        *Scenario
	sessionID string
}

// Run creates a session for sc and replays its steps in order. It stops at
// the first step whose outcome does not match its expectation and returns
// the partial result with a *MismatchError.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	sessionID, err := r.engine.CreateSession(ctx, sc.Owner, sc.Settings)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	rp := &replay{Runner: r, sc: sc, sessionID: sessionID}
	log := r.logger.WithSession(sessionID)
	log.Info("replaying scenario", "name", sc.Name, "steps", len(sc.Steps))

	res := &Result{Name: sc.Name, SessionID: sessionID}
	var runErr error
	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		version, err := rp.step(ctx, st)
		sr := StepResult{Index: i, As: st.As, Action: st.Action, Path: st.Path, Version: version}
		if err != nil {
			sr.Error = err.Error()
		}
		res.Steps = append(res.Steps, sr)

		if !matches(st.Expect, err) {
			log.Warn("step outcome mismatch", "step", i, "action", string(st.Action), "expect", st.Expect, "error", err)
			runErr = &MismatchError{Index: i, Action: st.Action, Want: st.Expect, Got: err}
			break
		}
		log.Debug("step replayed", "step", i, "action", string(st.Action), "participant", st.As)
	}

	// Ended sessions still answer queries.
	if files, err := r.engine.Files(sessionID); err == nil {
		res.Files = files
	}
	if conflicts, err := r.engine.Conflicts(sessionID); err == nil {
		res.Conflicts = conflicts
	}
	return res, runErr
}

func matches(expect string, err error) bool {
	if expect == "" {
		return err == nil
	}
	return errors.Is(err, expectations[expect])
}

// step performs one engine call and returns the resulting file version when
// the step targets a file.
func (rp *replay) step(ctx context.Context, st Step) (int, error) {
	e := rp.engine
	id := rp.sessionID

	switch st.Action {
	case ActionJoin:
		return 0, e.JoinSession(ctx, id, rp.sc.participant(st.As))
	case ActionLeave:
		return 0, e.LeaveSession(ctx, id, st.As)
	case ActionStatus:
		return 0, e.SetParticipantStatus(ctx, id, st.As, st.Status)
	case ActionGrant:
		return 0, e.GrantPermission(ctx, id, st.As, st.Target, st.Permission)
	case ActionRevoke:
		return 0, e.RevokePermission(ctx, id, st.As, st.Target, st.Permission)
	case ActionPause:
		return 0, e.PauseSession(ctx, id, st.As)
	case ActionResume:
		return 0, e.ResumeSession(ctx, id, st.As)
	case ActionEnd:
		return 0, e.EndSession(ctx, id, st.As)
	case ActionAddFile:
		snap, err := e.AddFile(ctx, id, st.As, st.Path, st.Content)
		if err != nil {
			return 0, err
		}
		return snap.Version, nil
	}

	fileID, err := rp.fileID(st.Path)
	if err != nil {
		return 0, err
	}

	switch st.Action {
	case ActionEdit, ActionInsert:
		ops, err := rp.operations(st, fileID)
		if err != nil {
			return 0, err
		}
		change, err := e.ApplyChange(ctx, id, st.As, fileID, ops)
		if err != nil {
			return rp.version(fileID), err
		}
		return change.Snapshot.Version, nil
	case ActionLock:
		return rp.version(fileID), e.LockFile(ctx, id, st.As, fileID)
	case ActionUnlock:
		return rp.version(fileID), e.UnlockFile(ctx, id, st.As, fileID)
	case ActionCursor:
		_, err := e.UpdateCursor(ctx, id, presence.CursorState{
			ParticipantID: st.As,
			FileID:        fileID,
			Position:      st.At,
			Name:          rp.sc.participant(st.As).Name,
		})
		return 0, err
	case ActionSelect:
		_, err := e.UpdateSelection(ctx, id, presence.SelectionState{
			ParticipantID: st.As,
			FileID:        fileID,
			Range:         st.Range,
			Name:          rp.sc.participant(st.As).Name,
		})
		return 0, err
	case ActionClearSelection:
		return 0, e.ClearSelection(ctx, id, st.As, fileID)
	case ActionResolve:
		return rp.resolve(ctx, st, fileID)
	}
	return 0, fmt.Errorf("%w: unknown action %q", ErrInvalidScenario, st.Action)
}

// fileID maps a scenario path to the ID the engine assigned. Unknown paths
// surface as ErrFileNotFound so they can be expected like engine errors.
func (rp *replay) fileID(path string) (string, error) {
	snap, err := rp.engine.FileByPath(rp.sessionID, path)
	if err != nil {
		return "", err
	}
	return snap.ID, nil
}

func (rp *replay) version(fileID string) int {
	snap, err := rp.engine.File(rp.sessionID, fileID)
	if err != nil {
		return 0
	}
	return snap.Version
}

// operations builds the batch for an edit or insert step. A zero base
// version means the file's version at the time the step runs.
func (rp *replay) operations(st Step, fileID string) ([]textedit.Operation, error) {
	current := rp.version(fileID)

	if st.Action == ActionInsert {
		base := st.Base
		if base == 0 {
			base = current
		}
		return []textedit.Operation{{
			Kind:          textedit.Insert,
			Range:         textedit.Range{Start: st.At, End: st.At},
			NewText:       st.Text,
			ParticipantID: st.As,
			BaseVersion:   base,
		}}, nil
	}

	ops := make([]textedit.Operation, len(st.Ops))
	for i, op := range st.Ops {
		if op.ParticipantID == "" {
			op.ParticipantID = st.As
		}
		if op.BaseVersion == 0 {
			op.BaseVersion = st.Base
		}
		if op.BaseVersion == 0 {
			op.BaseVersion = current
		}
		ops[i] = op
	}
	return ops, nil
}

// resolve settles the oldest pending conflict on the step's file.
func (rp *replay) resolve(ctx context.Context, st Step, fileID string) (int, error) {
	conflicts, err := rp.engine.Conflicts(rp.sessionID)
	if err != nil {
		return 0, err
	}
	for _, c := range conflicts {
		if c.FileID != fileID || c.Status != conflict.StatusPending {
			continue
		}
		_, err := rp.engine.ResolveConflict(ctx, rp.sessionID, c.ID, conflict.Resolution{
			Outcome:    st.Outcome,
			ResolverID: st.As,
			Note:       st.Note,
		})
		return rp.version(fileID), err
	}
	return rp.version(fileID), fmt.Errorf("%w: no pending conflict on %s", session.ErrConflictNotFound, st.Path)
}
