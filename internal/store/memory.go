package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Iron-Ham/pairpad/internal/session"
)

// MemoryStore keeps encoded snapshots in memory. Encoding on save means a
// loaded snapshot shares nothing with the one that was saved.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// SaveSession stores snap, replacing any previous snapshot of the session.
func (m *MemoryStore) SaveSession(_ context.Context, snap session.Snapshot) error {
	if err := validateID(snap.ID); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[snap.ID] = data
	return nil
}

// LoadSession returns a copy of the stored snapshot.
func (m *MemoryStore) LoadSession(_ context.Context, sessionID string) (session.Snapshot, error) {
	m.mu.RLock()
	data, ok := m.data[sessionID]
	m.mu.RUnlock()
	if !ok {
		return session.Snapshot{}, notFound(sessionID)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("%w: %s: %v", ErrCorrupted, sessionID, err)
	}
	return snap, nil
}

// ListSessions summarizes every stored session, sorted by ID.
func (m *MemoryStore) ListSessions(ctx context.Context) ([]Info, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		snap, err := m.LoadSession(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, infoOf(snap))
	}
	return out, nil
}

// DeleteSession removes a stored snapshot.
func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[sessionID]; !ok {
		return notFound(sessionID)
	}
	delete(m.data, sessionID)
	return nil
}
