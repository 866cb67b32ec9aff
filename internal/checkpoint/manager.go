// Package checkpoint snapshots and restores file/directory state around a
// mutation. Checkpoints are immutable once created; the store keeps the 20
// most recent and evicts the oldest by timestamp.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remedy/internal/logging"
	"remedy/internal/types"
)

// MaxCheckpoints is the retention cap of the checkpoint store.
const MaxCheckpoints = 20

// Manager creates and restores checkpoints for a single workspace. Create
// and Restore hold the workspace lock for their full duration so they never
// interleave with a concurrent mutation.
type Manager struct {
	workspace string

	// fsLock serializes every filesystem touch in this workspace. It is
	// shared with the patch applier so checkpointing and patching are
	// mutually exclusive.
	fsLock *sync.Mutex

	mu          sync.RWMutex
	checkpoints map[string]*types.Checkpoint
	cap         int
}

// NewManager creates a checkpoint manager rooted at workspace. fsLock may
// be shared with other components that mutate the same tree; pass nil to
// use a private lock.
func NewManager(workspace string, fsLock *sync.Mutex) *Manager {
	if fsLock == nil {
		fsLock = &sync.Mutex{}
	}
	return &Manager{
		workspace:   workspace,
		fsLock:      fsLock,
		checkpoints: make(map[string]*types.Checkpoint),
		cap:         MaxCheckpoints,
	}
}

// FSLock exposes the workspace lock for components that must not interleave
// with checkpoint operations.
func (m *Manager) FSLock() *sync.Mutex {
	return m.fsLock
}

// Create snapshots every file in intent.FilesAffected (content or absent)
// and records whether each ancestor directory existed. The returned
// checkpoint is already stored; the oldest checkpoint is evicted when the
// store exceeds its cap.
func (m *Manager) Create(intent types.ActionIntent, description string) (*types.Checkpoint, error) {
	m.fsLock.Lock()
	defer m.fsLock.Unlock()

	cp := &types.Checkpoint{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		Description:   description,
		Intent:        intent,
		FileSnapshots: make(map[string]types.FileSnapshot),
		DirSnapshots:  make(map[string]bool),
	}

	for _, rel := range intent.FilesAffected {
		path := m.abs(rel)

		content, err := os.ReadFile(path)
		switch {
		case err == nil:
			cp.FileSnapshots[rel] = types.FileSnapshot{Existed: true, Content: content}
		case os.IsNotExist(err):
			cp.FileSnapshots[rel] = types.FileSnapshot{Existed: false}
		default:
			return nil, fmt.Errorf("failed to snapshot %s: %w", rel, err)
		}

		for _, dir := range m.ancestors(rel) {
			if _, recorded := cp.DirSnapshots[dir]; recorded {
				continue
			}
			info, err := os.Stat(m.abs(dir))
			cp.DirSnapshots[dir] = err == nil && info.IsDir()
		}
	}

	m.mu.Lock()
	m.checkpoints[cp.ID] = cp
	m.evictLocked()
	m.mu.Unlock()

	logging.CheckpointDebug("created checkpoint %s: %d files, %d dirs (%s)",
		cp.ID, len(cp.FileSnapshots), len(cp.DirSnapshots), description)

	return cp, nil
}

// Restore puts every file recorded in the checkpoint back to its snapshot
// state: absent snapshots delete the current file, present snapshots
// overwrite it (creating parent directories as needed).
//
// Directories recorded as not-existing are removed only if currently empty.
// This makes restore a best-effort inverse, not a strict one: a directory
// left non-empty by an unrelated concurrent write stays behind. Known,
// documented limitation.
func (m *Manager) Restore(id string) error {
	m.mu.RLock()
	cp, ok := m.checkpoints[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrCheckpointNotFound, id)
	}

	m.fsLock.Lock()
	defer m.fsLock.Unlock()

	return m.restoreLocked(cp)
}

// RestoreCheckpoint restores from a checkpoint value directly. Used by the
// patch applier mid-rollback, where the caller already holds the workspace
// lock.
func (m *Manager) RestoreCheckpoint(cp *types.Checkpoint, callerHoldsLock bool) error {
	if !callerHoldsLock {
		m.fsLock.Lock()
		defer m.fsLock.Unlock()
	}
	return m.restoreLocked(cp)
}

func (m *Manager) restoreLocked(cp *types.Checkpoint) error {
	for rel, snap := range cp.FileSnapshots {
		path := m.abs(rel)

		if !snap.Existed {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s during restore: %w", rel, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to recreate parent of %s: %w", rel, err)
		}
		if err := os.WriteFile(path, snap.Content, 0644); err != nil {
			return fmt.Errorf("failed to restore %s: %w", rel, err)
		}
	}

	// Deepest directories first so empty parents become removable.
	dirs := make([]string, 0, len(cp.DirSnapshots))
	for dir, existed := range cp.DirSnapshots {
		if !existed {
			dirs = append(dirs, dir)
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) >
			strings.Count(dirs[j], string(filepath.Separator))
	})
	for _, dir := range dirs {
		path := m.abs(dir)
		entries, err := os.ReadDir(path)
		if err != nil || len(entries) > 0 {
			if err == nil {
				logging.CheckpointDebug("restore %s: leaving non-empty directory %s", cp.ID, dir)
			}
			continue
		}
		if err := os.Remove(path); err != nil {
			logging.CheckpointDebug("restore %s: could not remove directory %s: %v", cp.ID, dir, err)
		}
	}

	logging.CheckpointDebug("restored checkpoint %s (%d files)", cp.ID, len(cp.FileSnapshots))
	return nil
}

// Get returns a stored checkpoint by ID.
func (m *Manager) Get(id string) (*types.Checkpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[id]
	return cp, ok
}

// List returns all stored checkpoints, newest first.
func (m *Manager) List() []*types.Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Checkpoint, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// evictLocked drops the oldest checkpoints beyond the cap. Caller holds mu.
func (m *Manager) evictLocked() {
	for len(m.checkpoints) > m.cap {
		oldestID := ""
		var oldest time.Time
		for id, cp := range m.checkpoints {
			if oldestID == "" || cp.Timestamp.Before(oldest) {
				oldestID = id
				oldest = cp.Timestamp
			}
		}
		delete(m.checkpoints, oldestID)
		logging.CheckpointDebug("evicted checkpoint %s", oldestID)
	}
}

// abs resolves a workspace-relative path. Absolute paths pass through.
func (m *Manager) abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(m.workspace, rel)
}

// ancestors lists every ancestor directory of a workspace-relative path,
// nearest first, stopping at the workspace root.
func (m *Manager) ancestors(rel string) []string {
	var out []string
	dir := filepath.Dir(rel)
	for dir != "." && dir != string(filepath.Separator) && dir != "" {
		out = append(out, dir)
		dir = filepath.Dir(dir)
	}
	return out
}
