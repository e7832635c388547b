// Package presence tracks where participants are looking in a session's
// files: one cursor and at most one selection per (participant, file).
//
// Presence carries no content authority. Updates are last-write-wins
// overwrites with no version check, so the tracker never reports a conflict.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// CursorState is a participant's caret position in one file.
type CursorState struct {
	ParticipantID string            `json:"participant_id"`
	FileID        string            `json:"file_id"`
	Position      textedit.Position `json:"position"`
	Color         string            `json:"color,omitempty"`
	Name          string            `json:"name,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// SelectionState is a participant's highlighted range in one file.
type SelectionState struct {
	ParticipantID string         `json:"participant_id"`
	FileID        string         `json:"file_id"`
	Range         textedit.Range `json:"range"`
	Color         string         `json:"color,omitempty"`
	Name          string         `json:"name,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Tracker holds the presence state of one session.
// It is safe for concurrent use and independent of any document lock.
type Tracker struct {
	mu         sync.RWMutex
	cursors    map[string]map[string]CursorState    // fileID -> participantID -> state
	selections map[string]map[string]SelectionState // fileID -> participantID -> state
	now        func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		cursors:    make(map[string]map[string]CursorState),
		selections: make(map[string]map[string]SelectionState),
		now:        time.Now,
	}
}

// UpdateCursor stores state, replacing any earlier cursor for the same
// participant and file. A zero UpdatedAt is stamped with the current time.
func (t *Tracker) UpdateCursor(state CursorState) CursorState {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	byParticipant, ok := t.cursors[state.FileID]
	if !ok {
		byParticipant = make(map[string]CursorState)
		t.cursors[state.FileID] = byParticipant
	}
	byParticipant[state.ParticipantID] = state
	return state
}

// UpdateSelection stores state, replacing any earlier selection for the same
// participant and file.
func (t *Tracker) UpdateSelection(state SelectionState) SelectionState {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	byParticipant, ok := t.selections[state.FileID]
	if !ok {
		byParticipant = make(map[string]SelectionState)
		t.selections[state.FileID] = byParticipant
	}
	byParticipant[state.ParticipantID] = state
	return state
}

// ClearSelection drops a participant's selection in one file.
// Returns false if there was none.
func (t *Tracker) ClearSelection(fileID, participantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	byParticipant, ok := t.selections[fileID]
	if !ok {
		return false
	}
	if _, ok := byParticipant[participantID]; !ok {
		return false
	}
	delete(byParticipant, participantID)
	if len(byParticipant) == 0 {
		delete(t.selections, fileID)
	}
	return true
}

// RemoveParticipant purges every cursor and selection held by participantID
// and returns the IDs of the files that had an entry, sorted.
func (t *Tracker) RemoveParticipant(participantID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	touched := make(map[string]struct{})
	for fileID, byParticipant := range t.cursors {
		if _, ok := byParticipant[participantID]; ok {
			delete(byParticipant, participantID)
			touched[fileID] = struct{}{}
		}
		if len(byParticipant) == 0 {
			delete(t.cursors, fileID)
		}
	}
	for fileID, byParticipant := range t.selections {
		if _, ok := byParticipant[participantID]; ok {
			delete(byParticipant, participantID)
			touched[fileID] = struct{}{}
		}
		if len(byParticipant) == 0 {
			delete(t.selections, fileID)
		}
	}

	files := make([]string, 0, len(touched))
	for fileID := range touched {
		files = append(files, fileID)
	}
	sort.Strings(files)
	return files
}

// Cursors returns the cursors in fileID ordered by participant ID.
func (t *Tracker) Cursors(fileID string) []CursorState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]CursorState, 0, len(t.cursors[fileID]))
	for _, c := range t.cursors[fileID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// Selections returns the selections in fileID ordered by participant ID.
func (t *Tracker) Selections(fileID string) []SelectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]SelectionState, 0, len(t.selections[fileID]))
	for _, s := range t.selections[fileID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
