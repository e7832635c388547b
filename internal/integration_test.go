// Package internal contains integration tests that verify the engine, the
// notification bus, and the session store work together.
package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/pairpad/internal/event"
	"github.com/Iron-Ham/pairpad/internal/presence"
	"github.com/Iron-Ham/pairpad/internal/session"
	"github.com/Iron-Ham/pairpad/internal/store"
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

func participant(id string) session.Participant {
	return session.Participant{
		ID:          id,
		Name:        strings.ToUpper(id[:1]) + id[1:],
		Permissions: []session.Permission{session.PermView, session.PermEdit},
	}
}

// TestEventRouting checks that type subscriptions see every session while
// session subscriptions see only their own.
func TestEventRouting(t *testing.T) {
	bus := event.NewBus()
	hub := event.NewHub(bus)
	engine := session.NewEngine(session.WithPublisher(hub))
	ctx := context.Background()

	var mu sync.Mutex
	var updates, sessionA []string
	bus.Subscribe(string(event.FileUpdated), func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, e.(event.Message).SessionID)
	})

	a, err := engine.CreateSession(ctx, participant("alice"), session.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := engine.CreateSession(ctx, participant("bob"), session.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	hub.SubscribeSession(a, func(m event.Message) {
		mu.Lock()
		defer mu.Unlock()
		sessionA = append(sessionA, string(m.Type))
	})

	for _, tc := range []struct{ session, owner string }{{a, "alice"}, {b, "bob"}} {
		snap, err := engine.AddFile(ctx, tc.session, tc.owner, "doc.txt", "")
		if err != nil {
			t.Fatal(err)
		}
		op := textedit.Operation{Kind: textedit.Insert, NewText: "hi", ParticipantID: tc.owner, BaseVersion: 1}
		if _, err := engine.ApplyChange(ctx, tc.session, tc.owner, snap.ID, []textedit.Operation{op}); err != nil {
			t.Fatal(err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 2 || updates[0] != a || updates[1] != b {
		t.Errorf("file_updated deliveries = %v, want [%s %s]", updates, a, b)
	}
	want := []string{string(event.FileAdded), string(event.FileUpdated)}
	if fmt.Sprint(sessionA) != fmt.Sprint(want) {
		t.Errorf("session %s saw %v, want %v", a, sessionA, want)
	}
}

// TestConcurrentSessionsSurviveRestart runs several sessions with
// concurrent editors against a file store, then reloads them in a fresh
// engine.
func TestConcurrentSessionsSurviveRestart(t *testing.T) {
	const (
		sessions = 3
		editors  = 3
		edits    = 10
	)
	ctx := context.Background()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	engine := session.NewEngine(session.WithPersister(fs))

	type target struct{ sessionID, fileID string }
	targets := make([]target, sessions)
	for i := range targets {
		id, err := engine.CreateSession(ctx, participant("owner"), session.Settings{})
		if err != nil {
			t.Fatal(err)
		}
		snap, err := engine.AddFile(ctx, id, "owner", "shared.md", "")
		if err != nil {
			t.Fatal(err)
		}
		for e := 0; e < editors; e++ {
			if err := engine.JoinSession(ctx, id, participant(fmt.Sprintf("editor%d", e))); err != nil {
				t.Fatal(err)
			}
		}
		targets[i] = target{id, snap.ID}
	}

	var wg sync.WaitGroup
	errs := make(chan error, sessions*editors)
	for _, tg := range targets {
		for e := 0; e < editors; e++ {
			wg.Add(1)
			go func(tg target, who string) {
				defer wg.Done()
				for n := 0; n < edits; {
					cur, err := engine.File(tg.sessionID, tg.fileID)
					if err != nil {
						errs <- err
						return
					}
					if _, err := engine.UpdateCursor(ctx, tg.sessionID, presence.CursorState{ParticipantID: who, FileID: tg.fileID}); err != nil {
						errs <- err
						return
					}
					op := textedit.Operation{Kind: textedit.Insert, NewText: "x", ParticipantID: who, BaseVersion: cur.Version}
					_, err = engine.ApplyChange(ctx, tg.sessionID, who, tg.fileID, []textedit.Operation{op})
					switch {
					case err == nil:
						n++
					case errors.Is(err, session.ErrConflict):
						// Lost the race; retry against the new version.
					default:
						errs <- err
						return
					}
				}
			}(tg, fmt.Sprintf("editor%d", e))
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("editor failed: %v", err)
	}

	restarted := session.NewEngine(session.WithPersister(fs))
	for _, tg := range targets {
		snap, err := restarted.LoadSession(ctx, tg.sessionID)
		if err != nil {
			t.Fatalf("LoadSession(%s) error: %v", tg.sessionID, err)
		}
		if len(snap.Participants) != editors+1 {
			t.Errorf("participants = %d, want %d", len(snap.Participants), editors+1)
		}
		f, err := restarted.File(tg.sessionID, tg.fileID)
		if err != nil {
			t.Fatal(err)
		}
		if f.Version != 1+editors*edits || len(f.Content) != editors*edits {
			t.Errorf("file = v%d with %d bytes, want v%d with %d", f.Version, len(f.Content), 1+editors*edits, editors*edits)
		}
		// Presence is not persisted.
		if cursors, _ := restarted.Cursors(tg.sessionID, tg.fileID); len(cursors) != 0 {
			t.Errorf("cursors after restart = %d, want 0", len(cursors))
		}
	}

	infos, err := fs.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != sessions {
		t.Errorf("stored sessions = %d, want %d", len(infos), sessions)
	}
}
