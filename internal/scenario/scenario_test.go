package scenario

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/session"
)

const minimal = `
owner: {id: alice}
participants:
  - {id: bob, permissions: [view, edit]}
steps:
  - {as: alice, action: add_file, path: a.txt, content: hi}
`

func TestParse(t *testing.T) {
	sc, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if sc.Owner.ID != "alice" || len(sc.Participants) != 1 || len(sc.Steps) != 1 {
		t.Errorf("scenario = %+v", sc)
	}
	if got := sc.Participants[0].Permissions; !slices.Equal(got, []session.Permission{session.PermView, session.PermEdit}) {
		t.Errorf("bob permissions = %v", got)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "owner: {id: alice}\ncolour: red\n"},
		{"missing owner", "steps: []\n"},
		{"participant without id", "owner: {id: alice}\nparticipants: [{name: Bob}]\n"},
		{"unknown action", "owner: {id: alice}\nsteps: [{as: alice, action: dance}]\n"},
		{"unknown participant", "owner: {id: alice}\nsteps: [{as: mallory, action: join}]\n"},
		{"unknown expectation", "owner: {id: alice}\nsteps: [{as: alice, action: end, expect: oops}]\n"},
		{"file step without path", "owner: {id: alice}\nsteps: [{as: alice, action: lock}]\n"},
		{"edit without ops", "owner: {id: alice}\nsteps: [{as: alice, action: edit, path: a}]\n"},
		{"grant without target", "owner: {id: alice}\nsteps: [{as: alice, action: grant, permission: edit}]\n"},
		{"not yaml", "owner: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); !errors.Is(err, ErrInvalidScenario) {
				t.Errorf("Parse() error = %v, want ErrInvalidScenario", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	sc, err := Load(filepath.Join("testdata", "pairing.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if sc.Settings.ConflictResolution != conflict.PolicyManual {
		t.Errorf("policy = %q, want manual", sc.Settings.ConflictResolution)
	}
	if sc.Settings.SessionTimeout != 30*time.Minute {
		t.Errorf("timeout = %s, want 30m", sc.Settings.SessionTimeout)
	}
	if sc.Settings.AutoSaveEnabled() {
		t.Error("auto_save: false should disable auto-save")
	}
	if sc.Steps[9].Ops[0].BaseVersion != 1 {
		t.Errorf("edit base version = %d, want 1", sc.Steps[9].Ops[0].BaseVersion)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestRunPairing(t *testing.T) {
	sc, err := Load(filepath.Join("testdata", "pairing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	engine := session.NewEngine()

	res, err := NewRunner(engine, nil).Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Steps) != len(sc.Steps) {
		t.Fatalf("replayed %d steps, want %d", len(res.Steps), len(sc.Steps))
	}
	if res.Steps[3].Version != 2 || res.Steps[4].Error == "" {
		t.Errorf("steps = %+v", res.Steps[3:5])
	}

	if len(res.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(res.Files))
	}
	if f := res.Files[0]; f.Content != "Bhello world" || f.Version != 3 {
		t.Errorf("file = %q v%d, want %q v3", f.Content, f.Version, "Bhello world")
	}

	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Status != conflict.StatusResolved || c.Resolution.Outcome != conflict.OutcomeKeepCurrent || c.Resolution.ResolverID != "bob" {
		t.Errorf("conflict = %+v", c)
	}

	snap, err := engine.Session(res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != session.StatusEnded {
		t.Errorf("status = %s, want ended", snap.Status)
	}
}

func TestRunStopsAtMismatch(t *testing.T) {
	sc, err := Parse([]byte(`
owner: {id: alice}
steps:
  - {as: alice, action: add_file, path: a.txt, content: hi}
  - {as: alice, action: lock, path: a.txt, expect: file_locked}
  - {as: alice, action: end}
`))
	if err != nil {
		t.Fatal(err)
	}
	engine := session.NewEngine()

	res, err := NewRunner(engine, nil).Run(context.Background(), sc)
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Run() error = %v, want *MismatchError", err)
	}
	if mismatch.Index != 1 || mismatch.Want != "file_locked" || mismatch.Got != nil {
		t.Errorf("mismatch = %+v", mismatch)
	}
	if len(res.Steps) != 2 {
		t.Errorf("replayed %d steps, want 2", len(res.Steps))
	}
	// The end step never ran.
	snap, _ := engine.Session(res.SessionID)
	if snap.Status != session.StatusActive {
		t.Errorf("status = %s, want active", snap.Status)
	}
}

func TestRunUnexpectedError(t *testing.T) {
	sc, err := Parse([]byte(`
owner: {id: alice}
steps:
  - {as: alice, action: insert, path: missing.txt, text: x, expect: file_not_found}
  - {as: alice, action: unlock, path: missing.txt}
`))
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewRunner(session.NewEngine(), nil).Run(context.Background(), sc)
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) || mismatch.Index != 1 {
		t.Fatalf("Run() error = %v, want mismatch at step 1", err)
	}
	if !errors.Is(err, session.ErrFileNotFound) {
		t.Errorf("mismatch should wrap the engine error, got %v", err)
	}
}

func TestRunEditFillsDefaults(t *testing.T) {
	sc, err := Parse([]byte(`
owner: {id: alice}
steps:
  - {as: alice, action: add_file, path: a.txt, content: abc}
  - as: alice
    action: edit
    path: a.txt
    ops:
      - kind: replace
        range: {start: {line: 0, column: 0}, end: {line: 0, column: 1}}
        old_text: a
        new_text: A
      - kind: delete
        range: {start: {line: 0, column: 2}, end: {line: 0, column: 3}}
        old_text: c
`))
	if err != nil {
		t.Fatal(err)
	}

	res, err := NewRunner(session.NewEngine(), nil).Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if f := res.Files[0]; f.Content != "Ab" || f.Version != 2 || f.LastModifiedBy != "alice" {
		t.Errorf("file = %+v", f)
	}
}

func TestRunFutureBaseVersion(t *testing.T) {
	sc, err := Parse([]byte(`
settings: {conflict_resolution: auto}
owner: {id: alice}
steps:
  - {as: alice, action: add_file, path: a.txt, content: hello}
  - {as: alice, action: insert, path: a.txt, text: X, base: 99, expect: future_version}
`))
	if err != nil {
		t.Fatal(err)
	}

	res, err := NewRunner(session.NewEngine(), nil).Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if f := res.Files[0]; f.Content != "hello" || f.Version != 1 {
		t.Errorf("file = %q v%d, want untouched", f.Content, f.Version)
	}
	if len(res.Conflicts) != 0 {
		t.Errorf("conflicts = %+v, want none", res.Conflicts)
	}
}

func TestRunResolveWithoutConflict(t *testing.T) {
	sc, err := Parse([]byte(`
owner: {id: alice}
steps:
  - {as: alice, action: add_file, path: a.txt}
  - {as: alice, action: resolve, path: a.txt, expect: conflict_not_found}
`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewRunner(session.NewEngine(), nil).Run(context.Background(), sc); err != nil {
		t.Errorf("Run() error: %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	sc, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(session.NewEngine(), nil).Run(ctx, sc)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if res == nil || len(res.Steps) != 0 {
		t.Errorf("result = %+v, want no steps", res)
	}
}

func TestExpectations(t *testing.T) {
	names := Expectations()
	if !slices.IsSorted(names) {
		t.Errorf("Expectations() not sorted: %v", names)
	}
	for _, want := range []string{"conflict", "awaiting_resolution", "permission_denied"} {
		if !slices.Contains(names, want) {
			t.Errorf("Expectations() missing %q", want)
		}
	}
}
