package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Iron-Ham/pairpad/internal/session"
)

const (
	// SessionsDir is the directory under the store root holding one
	// subdirectory per session.
	SessionsDir = "sessions"

	// SessionFileName is the snapshot file inside a session directory.
	SessionFileName = "session.json"
)

// FileStore persists snapshots as {dir}/sessions/<id>/session.json. Writes
// are atomic: a reader never sees a partially written snapshot.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, SessionsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store root.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// SessionDir returns the directory holding a session's snapshot.
func (fs *FileStore) SessionDir(sessionID string) string {
	return filepath.Join(fs.dir, SessionsDir, sessionID)
}

func (fs *FileStore) sessionFile(sessionID string) string {
	return filepath.Join(fs.SessionDir(sessionID), SessionFileName)
}

// SaveSession writes snap, replacing any previous snapshot of the session.
func (fs *FileStore) SaveSession(ctx context.Context, snap session.Snapshot) error {
	if err := validateID(snap.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.SessionDir(snap.ID), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	return atomicWriteFile(fs.sessionFile(snap.ID), data, 0644)
}

// LoadSession reads the snapshot of a session.
func (fs *FileStore) LoadSession(ctx context.Context, sessionID string) (session.Snapshot, error) {
	if err := validateID(sessionID); err != nil {
		return session.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return session.Snapshot{}, err
	}

	fs.mu.RLock()
	data, err := os.ReadFile(fs.sessionFile(sessionID))
	fs.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return session.Snapshot{}, notFound(sessionID)
		}
		return session.Snapshot{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("%w: %s: %v", ErrCorrupted, sessionID, err)
	}
	if snap.ID != sessionID {
		return session.Snapshot{}, fmt.Errorf("%w: file holds session %q, expected %q", ErrCorrupted, snap.ID, sessionID)
	}
	return snap, nil
}

// ListSessions summarizes every readable stored session, sorted by ID.
// Directories without a decodable snapshot are skipped.
func (fs *FileStore) ListSessions(ctx context.Context) ([]Info, error) {
	fs.mu.RLock()
	entries, err := os.ReadDir(filepath.Join(fs.dir, SessionsDir))
	fs.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snap, err := fs.LoadSession(ctx, entry.Name())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out = append(out, infoOf(snap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteSession removes a session's directory.
func (fs *FileStore) DeleteSession(_ context.Context, sessionID string) error {
	if err := validateID(sessionID); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := fs.SessionDir(sessionID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return notFound(sessionID)
		}
		return fmt.Errorf("failed to check session directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete session directory: %w", err)
	}
	return nil
}

// atomicWriteFile writes data to a temporary file in the target directory
// and renames it into place, so path is never partially written.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
