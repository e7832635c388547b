package session

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/event"
	"github.com/Iron-Ham/pairpad/internal/presence"
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

func TestScenarioJoinAndInsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.engine.CreateSession(ctx, alice, Settings{})
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	fileID := h.addFile(t, id, "main.ts", "line1\nline2")
	if err := h.engine.JoinSession(ctx, id, bob); err != nil {
		t.Fatalf("JoinSession() error: %v", err)
	}

	change, err := h.engine.ApplyChange(ctx, id, "bob", fileID, []textedit.Operation{insert(0, 5, "X", 1)})
	if err != nil {
		t.Fatalf("ApplyChange() error: %v", err)
	}
	if change.Snapshot.Content != "line1X\nline2" {
		t.Errorf("content = %q, want %q", change.Snapshot.Content, "line1X\nline2")
	}
	if change.Snapshot.Version != 2 {
		t.Errorf("version = %d, want 2", change.Snapshot.Version)
	}

	want := []event.Type{event.SessionCreated, event.FileAdded, event.UserJoined, event.FileUpdated}
	if got := h.events.types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	update, ok := h.events.last().Payload.(FileUpdate)
	if !ok || update.Version != 2 || update.ParticipantID != "bob" || len(update.Operations) != 1 {
		t.Errorf("file_updated payload = %+v", h.events.last().Payload)
	}
}

func TestScenarioLockHandoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.newSession(t, Settings{})
	fileID := h.addFile(t, id, "main.ts", "line1\nline2")

	if err := h.engine.LockFile(ctx, id, "alice", fileID); err != nil {
		t.Fatalf("LockFile(alice) error: %v", err)
	}
	if _, err := h.engine.ApplyChange(ctx, id, "bob", fileID, []textedit.Operation{insert(0, 0, "b", 1)}); !errors.Is(err, ErrFileLocked) {
		t.Fatalf("ApplyChange(bob) error = %v, want ErrFileLocked", err)
	}
	if _, err := h.engine.ApplyChange(ctx, id, "alice", fileID, []textedit.Operation{insert(0, 0, "a", 1)}); err != nil {
		t.Fatalf("ApplyChange(alice) error: %v", err)
	}
	if err := h.engine.UnlockFile(ctx, id, "bob", fileID); !errors.Is(err, ErrNotLockHolder) {
		t.Errorf("UnlockFile(bob) error = %v, want ErrNotLockHolder", err)
	}
	if err := h.engine.UnlockFile(ctx, id, "alice", fileID); err != nil {
		t.Fatalf("UnlockFile(alice) error: %v", err)
	}
	change, err := h.engine.ApplyChange(ctx, id, "bob", fileID, []textedit.Operation{insert(0, 0, "b", 2)})
	if err != nil {
		t.Fatalf("ApplyChange(bob) retry error: %v", err)
	}
	if change.Snapshot.Content != "baline1\nline2" || change.Snapshot.Version != 3 {
		t.Errorf("got %q v%d", change.Snapshot.Content, change.Snapshot.Version)
	}
}

func TestScenarioAutoPolicyLastWriterWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.newSession(t, Settings{ConflictResolution: conflict.PolicyAuto})
	fileID := h.addFile(t, id, "main.ts", "hello world")

	// Bring the file to version 3.
	for i, op := range []textedit.Operation{insert(0, 11, "\nsecond", 1), insert(1, 6, "!", 2)} {
		if _, err := h.engine.ApplyChange(ctx, id, "alice", fileID, []textedit.Operation{op}); err != nil {
			t.Fatalf("setup change %d: %v", i, err)
		}
	}

	replace := textedit.Operation{Kind: textedit.Replace, Range: span(0, 0, 0, 5), NewText: "HOWDY", BaseVersion: 3}
	deletion := textedit.Operation{Kind: textedit.Delete, Range: span(0, 3, 0, 8), BaseVersion: 3}

	first, err := h.engine.ApplyChange(ctx, id, "alice", fileID, []textedit.Operation{replace})
	if err != nil {
		t.Fatalf("first ApplyChange() error: %v", err)
	}
	if first.Conflict != nil {
		t.Fatalf("first change should be clean, got %+v", first.Conflict)
	}

	second, err := h.engine.ApplyChange(ctx, id, "bob", fileID, []textedit.Operation{deletion})
	if err != nil {
		t.Fatalf("second ApplyChange() error: %v", err)
	}
	if second.Snapshot.Content != "HOWrld\nsecond!" || second.Snapshot.Version != 5 {
		t.Errorf("got %q v%d, want the later change applied on top", second.Snapshot.Content, second.Snapshot.Version)
	}

	c := second.Conflict
	if c == nil {
		t.Fatal("auto policy must record a conflict")
	}
	if c.Kind != conflict.KindRangeOverlap || c.Status != conflict.StatusResolved {
		t.Errorf("conflict = %s/%s, want range_overlap/resolved", c.Kind, c.Status)
	}
	if c.Resolution == nil || c.Resolution.Strategy != conflict.PolicyAuto || c.Resolution.Outcome != conflict.OutcomeAcceptIncoming {
		t.Errorf("resolution = %+v", c.Resolution)
	}
	if len(c.Incoming) != 1 || c.Incoming[0].ParticipantID != "bob" {
		t.Errorf("incoming = %+v, want bob's delete", c.Incoming)
	}
	if len(c.Competing) != 1 || c.Competing[0].ParticipantID != "alice" || c.Competing[0].NewText != "HOWDY" {
		t.Errorf("competing = %+v, want alice's replace", c.Competing)
	}

	all, err := h.engine.Conflicts(id)
	if err != nil || len(all) != 1 {
		t.Fatalf("Conflicts() = %v, %v", all, err)
	}
	update, ok := h.events.last().Payload.(FileUpdate)
	if !ok || update.Conflict == nil {
		t.Errorf("file_updated should carry the resolved conflict, got %+v", h.events.last())
	}
}

func TestScenarioOwnerLeaves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.newSession(t, Settings{})

	before, _ := h.engine.Permissions(id, "bob")
	if slices.Contains(before, PermManage) {
		t.Fatal("bob should not start with manage")
	}

	if err := h.engine.LeaveSession(ctx, id, "alice"); err != nil {
		t.Fatalf("LeaveSession() error: %v", err)
	}

	snap, _ := h.engine.Session(id)
	if snap.Owner != "bob" {
		t.Errorf("owner = %q, want bob", snap.Owner)
	}
	if _, ok := snap.Member("alice"); ok {
		t.Error("alice still in roster")
	}
	for _, perm := range []Permission{PermManage, PermInvite, PermEdit, PermChat, PermView} {
		if !snap.Has("bob", perm) {
			t.Errorf("bob lacks %s after ownership transfer", perm)
		}
		if snap.Has("alice", perm) {
			t.Errorf("alice still holds %s", perm)
		}
	}

	left, ok := h.events.last().Payload.(Left)
	if !ok || left.NewOwner != "bob" {
		t.Errorf("user_left payload = %+v", h.events.last().Payload)
	}
}

func TestOwnershipGoesToOldestRemainingJoiner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.newSession(t, Settings{})
	if err := h.engine.JoinSession(ctx, id, carol); err != nil {
		t.Fatalf("JoinSession(carol) error: %v", err)
	}

	if err := h.engine.LeaveSession(ctx, id, "alice"); err != nil {
		t.Fatalf("LeaveSession() error: %v", err)
	}
	snap, _ := h.engine.Session(id)
	if snap.Owner != "bob" {
		t.Errorf("owner = %q, want bob (joined before carol)", snap.Owner)
	}
	if snap.Has("carol", PermManage) {
		t.Error("carol should not gain manage")
	}
}

func TestLeavePurgesEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.newSession(t, Settings{})
	a := h.addFile(t, id, "a.go", "package a")
	b := h.addFile(t, id, "b.go", "package b")

	for _, fileID := range []string{a, b} {
		if _, err := h.engine.UpdateCursor(ctx, id, presence.CursorState{ParticipantID: "bob", FileID: fileID}); err != nil {
			t.Fatalf("UpdateCursor() error: %v", err)
		}
	}
	if _, err := h.engine.UpdateSelection(ctx, id, presence.SelectionState{ParticipantID: "bob", FileID: b, Range: span(0, 0, 0, 3)}); err != nil {
		t.Fatalf("UpdateSelection() error: %v", err)
	}
	if err := h.engine.LockFile(ctx, id, "bob", a); err != nil {
		t.Fatalf("LockFile() error: %v", err)
	}

	eventsBefore := h.events.count()
	if err := h.engine.LeaveSession(ctx, id, "bob"); err != nil {
		t.Fatalf("LeaveSession() error: %v", err)
	}
	if got := h.events.count() - eventsBefore; got != 1 {
		t.Errorf("leave published %d events, want 1", got)
	}

	snap, _ := h.engine.Session(id)
	if _, ok := snap.Member("bob"); ok {
		t.Error("bob still in roster")
	}
	for perm, ids := range snap.Permissions {
		if slices.Contains(ids, "bob") {
			t.Errorf("bob still holds %s", perm)
		}
	}
	for _, fileID := range []string{a, b} {
		cursors, _ := h.engine.Cursors(id, fileID)
		selections, _ := h.engine.Selections(id, fileID)
		if len(cursors) != 0 || len(selections) != 0 {
			t.Errorf("file %s keeps presence for bob: %v %v", fileID, cursors, selections)
		}
	}
	file, _ := h.engine.File(id, a)
	if file.LockedBy != "" {
		t.Errorf("lock still held by %q", file.LockedBy)
	}

	left := h.events.last().Payload.(Left)
	if !slices.Equal(left.ReleasedLocks, []string{a}) || len(left.ClearedFiles) != 2 {
		t.Errorf("user_left payload = %+v", left)
	}

	if _, err := h.engine.UpdateCursor(ctx, id, presence.CursorState{ParticipantID: "bob", FileID: a}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("departed participant UpdateCursor() error = %v, want ErrPermissionDenied", err)
	}
}

func TestPresenceUpsertIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.newSession(t, Settings{})
	fileID := h.addFile(t, id, "a.go", "package a")

	state := presence.CursorState{ParticipantID: "bob", FileID: fileID, Position: textedit.Position{Line: 0, Column: 3}}
	for range 2 {
		if _, err := h.engine.UpdateCursor(ctx, id, state); err != nil {
			t.Fatalf("UpdateCursor() error: %v", err)
		}
	}

	cursors, _ := h.engine.Cursors(id, fileID)
	if len(cursors) != 1 {
		t.Fatalf("stored %d cursors, want 1", len(cursors))
	}
	if cursors[0].Name != "Bob" {
		t.Errorf("cursor name = %q, want the participant's display name", cursors[0].Name)
	}
	if h.events.last().Type != event.CursorUpdated {
		t.Errorf("last event = %s, want cursor_updated", h.events.last().Type)
	}
}
