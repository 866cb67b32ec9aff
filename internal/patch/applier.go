package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"remedy/internal/checkpoint"
	"remedy/internal/logging"
	"remedy/internal/types"
)

// Applier commits patch batches atomically. It shares the workspace
// filesystem lock with the checkpoint manager, so no checkpoint or patch
// operation ever interleaves with another.
type Applier struct {
	workspace   string
	checkpoints *checkpoint.Manager
	fsLock      *sync.Mutex
	journal     *Journal

	// commitHook, when set, is called before each patch commits. Tests use
	// it to inject mid-batch failures.
	commitHook func(index int, p types.Patch) error
}

// NewApplier creates an applier that coordinates with cpm's workspace lock.
func NewApplier(workspace string, cpm *checkpoint.Manager) *Applier {
	return &Applier{
		workspace:   workspace,
		checkpoints: cpm,
		fsLock:      cpm.FSLock(),
		journal:     NewJournal(workspace),
	}
}

// stagedWrite is one fully-resolved filesystem action, computed before
// anything is committed.
type stagedWrite struct {
	patch   types.Patch
	content string // final content for create/modify and the write half of move
}

// Apply commits the batch in two phases. Phase one stages every write in
// memory and records the batch in the write-ahead journal; nothing on disk
// changes if staging fails. Phase two takes a checkpoint of every touched
// path and commits the writes in order. Any commit failure rolls the
// workspace back to the pre-batch checkpoint; if the rollback itself fails,
// ErrPartialApply is returned and the journal is left in place for recovery.
func (a *Applier) Apply(intent types.ActionIntent, patches []types.Patch) (*types.Checkpoint, error) {
	if len(patches) == 0 {
		return nil, nil
	}

	cp, err := a.checkpoints.Create(a.withTouchedPaths(intent, patches), "pre-apply: "+intent.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to checkpoint before apply: %w", err)
	}

	a.fsLock.Lock()
	defer a.fsLock.Unlock()

	staged, err := a.stage(patches)
	if err != nil {
		return nil, err
	}

	if err := a.journal.Write(intent, patches); err != nil {
		return nil, fmt.Errorf("failed to write apply journal: %w", err)
	}

	for i, sw := range staged {
		if a.commitHook != nil {
			if err := a.commitHook(i, sw.patch); err != nil {
				return cp, a.rollback(cp, i, err)
			}
		}
		if err := a.commit(sw); err != nil {
			return cp, a.rollback(cp, i, err)
		}
	}

	if err := a.journal.Clear(); err != nil {
		logging.PatchDebug("could not clear journal after commit: %v", err)
	}

	logging.PatchDebug("applied %d patches for intent %s", len(patches), intent.ID)
	return cp, nil
}

// withTouchedPaths widens the intent's affected-file list to every path the
// batch touches, so the pre-apply checkpoint covers the whole batch.
func (a *Applier) withTouchedPaths(intent types.ActionIntent, patches []types.Patch) types.ActionIntent {
	seen := make(map[string]struct{}, len(intent.FilesAffected))
	files := make([]string, 0, len(patches))
	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}
	for _, f := range intent.FilesAffected {
		add(f)
	}
	for _, p := range patches {
		add(p.FilePath)
		add(p.NewPath)
	}
	intent.FilesAffected = files
	return intent
}

// stage resolves every patch to its final content without touching disk.
// Re-checks the synthesis preconditions: the workspace may have drifted
// between synthesis and apply.
func (a *Applier) stage(patches []types.Patch) ([]stagedWrite, error) {
	staged := make([]stagedWrite, 0, len(patches))

	for _, p := range patches {
		path := a.abs(p.FilePath)

		switch p.Operation {
		case types.PatchCreate:
			if fileExists(path) {
				return nil, fmt.Errorf("%w: create target %s appeared before apply", types.ErrPatchPrecondition, p.FilePath)
			}
			staged = append(staged, stagedWrite{patch: p, content: p.Content})

		case types.PatchModify:
			current, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("%w: modify target %s vanished before apply: %v", types.ErrPatchPrecondition, p.FilePath, err)
			}
			final := p.Content
			if len(p.Edits) > 0 {
				final, err = applyEdits(string(current), p.Edits)
				if err != nil {
					return nil, err
				}
			}
			staged = append(staged, stagedWrite{patch: p, content: final})

		case types.PatchMove:
			current, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("%w: move source %s vanished before apply: %v", types.ErrPatchPrecondition, p.FilePath, err)
			}
			if fileExists(a.abs(p.NewPath)) {
				return nil, fmt.Errorf("%w: move destination %s appeared before apply", types.ErrPatchPrecondition, p.NewPath)
			}
			staged = append(staged, stagedWrite{patch: p, content: string(current)})

		case types.PatchDelete:
			if !fileExists(path) {
				return nil, fmt.Errorf("%w: delete target %s vanished before apply", types.ErrPatchPrecondition, p.FilePath)
			}
			staged = append(staged, stagedWrite{patch: p})

		default:
			return nil, fmt.Errorf("%w: unknown operation %q", types.ErrPatchPrecondition, p.Operation)
		}
	}

	return staged, nil
}

// commit performs one staged write. Caller holds the workspace lock.
func (a *Applier) commit(sw stagedWrite) error {
	path := a.abs(sw.patch.FilePath)

	switch sw.patch.Operation {
	case types.PatchCreate, types.PatchModify:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", sw.patch.FilePath, err)
		}
		return os.WriteFile(path, []byte(sw.content), 0644)

	case types.PatchMove:
		dst := a.abs(sw.patch.NewPath)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", sw.patch.NewPath, err)
		}
		if err := os.WriteFile(dst, []byte(sw.content), 0644); err != nil {
			return err
		}
		return os.Remove(path)

	case types.PatchDelete:
		return os.Remove(path)
	}
	return nil
}

// rollback restores the pre-batch checkpoint after a commit failure. The
// caller holds the workspace lock. If restore also fails the workspace is in
// a partially-applied state; that is the one error the loop cannot recover
// from on its own.
func (a *Applier) rollback(cp *types.Checkpoint, failedIndex int, cause error) error {
	logging.PatchDebug("commit of patch %d failed, rolling back to checkpoint %s: %v", failedIndex, cp.ID, cause)

	if err := a.checkpoints.RestoreCheckpoint(cp, true); err != nil {
		return fmt.Errorf("%w: commit failed (%v) and rollback to %s also failed: %v",
			types.ErrPartialApply, cause, cp.ID, err)
	}

	if err := a.journal.Clear(); err != nil {
		logging.PatchDebug("could not clear journal after rollback: %v", err)
	}
	return fmt.Errorf("apply rolled back to checkpoint %s: %w", cp.ID, cause)
}

func (a *Applier) abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(a.workspace, rel)
}

// applyEdits applies a descending-start-line edit list to content. Edits
// arrive pre-sorted from synthesis; applying bottom-up keeps every earlier
// line number valid.
func applyEdits(content string, edits []types.AppliedEdit) (string, error) {
	trailingNewline := strings.HasSuffix(content, "\n")
	lines := splitLines(content)

	for _, e := range edits {
		switch e.Type {
		case types.EditInsert:
			if e.StartLine < 1 || e.StartLine > len(lines)+1 {
				return "", fmt.Errorf("%w: insert at line %d out of range (%d lines)",
					types.ErrPatchPrecondition, e.StartLine, len(lines))
			}
			insert := splitLines(e.Content)
			if e.Content != "" && len(insert) == 0 {
				insert = []string{""}
			}
			idx := e.StartLine - 1
			lines = append(lines[:idx], append(append([]string{}, insert...), lines[idx:]...)...)

		case types.EditReplace:
			if e.StartLine < 1 || e.EndLine < e.StartLine || e.EndLine > len(lines) {
				return "", fmt.Errorf("%w: replace range %d-%d out of range (%d lines)",
					types.ErrPatchPrecondition, e.StartLine, e.EndLine, len(lines))
			}
			replacement := splitLines(e.Content)
			lines = append(lines[:e.StartLine-1], append(append([]string{}, replacement...), lines[e.EndLine:]...)...)

		case types.EditDelete:
			if e.StartLine < 1 || e.EndLine < e.StartLine || e.EndLine > len(lines) {
				return "", fmt.Errorf("%w: delete range %d-%d out of range (%d lines)",
					types.ErrPatchPrecondition, e.StartLine, e.EndLine, len(lines))
			}
			lines = append(lines[:e.StartLine-1], lines[e.EndLine:]...)

		default:
			return "", fmt.Errorf("%w: unknown edit type %q", types.ErrPatchPrecondition, e.Type)
		}
	}

	out := strings.Join(lines, "\n")
	if trailingNewline && out != "" {
		out += "\n"
	}
	return out, nil
}
