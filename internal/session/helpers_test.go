package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/pairpad/internal/event"
	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// recorder is a Publisher that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []event.Message
}

func (r *recorder) Publish(_ context.Context, sessionID string, eventType event.Type, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, event.NewMessage(sessionID, eventType, payload))
	return nil
}

func (r *recorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

func (r *recorder) last() event.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// memPersister keeps snapshots in a map and can be made to fail.
type memPersister struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
	saves int
	err   error
}

func newMemPersister() *memPersister {
	return &memPersister{snaps: make(map[string]Snapshot)}
}

func (p *memPersister) SaveSession(_ context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.saves++
	p.snaps[snap.ID] = snap
	return nil
}

func (p *memPersister) LoadSession(_ context.Context, id string) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snaps[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return snap, nil
}

func (p *memPersister) saved(id string) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snaps[id]
	return snap, ok
}

var errDiskFull = errors.New("disk full")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

type harness struct {
	engine    *Engine
	events    *recorder
	persister *memPersister
	clock     *fakeClock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		events:    &recorder{},
		persister: newMemPersister(),
		clock:     newFakeClock(),
	}
	base := []Option{
		WithPublisher(h.events),
		WithPersister(h.persister),
		WithClock(h.clock.Now),
		WithIDGenerator(sequentialIDs()),
	}
	h.engine = NewEngine(append(base, opts...)...)
	return h
}

var (
	alice = Participant{ID: "alice", Name: "Alice"}
	bob   = Participant{ID: "bob", Name: "Bob", Permissions: []Permission{PermView, PermEdit}}
	carol = Participant{ID: "carol", Name: "Carol", Permissions: []Permission{PermView}}
)

// newSession creates a session owned by alice with bob joined.
func (h *harness) newSession(t *testing.T, settings Settings) string {
	t.Helper()
	ctx := context.Background()
	id, err := h.engine.CreateSession(ctx, alice, settings)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if err := h.engine.JoinSession(ctx, id, bob); err != nil {
		t.Fatalf("JoinSession(bob) error: %v", err)
	}
	return id
}

func (h *harness) addFile(t *testing.T, sessionID, path, content string) string {
	t.Helper()
	snap, err := h.engine.AddFile(context.Background(), sessionID, "alice", path, content)
	if err != nil {
		t.Fatalf("AddFile(%s) error: %v", path, err)
	}
	return snap.ID
}

func insert(line, col int, text string, base int) textedit.Operation {
	p := textedit.Position{Line: line, Column: col}
	return textedit.Operation{Kind: textedit.Insert, Range: textedit.Range{Start: p, End: p}, NewText: text, BaseVersion: base}
}

func span(sl, sc, el, ec int) textedit.Range {
	return textedit.Range{
		Start: textedit.Position{Line: sl, Column: sc},
		End:   textedit.Position{Line: el, Column: ec},
	}
}
