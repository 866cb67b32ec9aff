// Package patch turns change plans into validated patches and applies them
// atomically. Synthesis validates every precondition up front; apply is
// two-phase (stage in memory, then commit) with checkpoint rollback, so a
// batch either lands completely or not at all.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"remedy/internal/logging"
	"remedy/internal/types"
)

// Synthesizer converts a change plan into an ordered patch batch. It reads
// the workspace but never writes it.
type Synthesizer struct {
	workspace string
}

// NewSynthesizer creates a synthesizer rooted at workspace.
func NewSynthesizer(workspace string) *Synthesizer {
	return &Synthesizer{workspace: workspace}
}

// Synthesize validates every step of the plan against the current workspace
// state and returns the patch batch in apply order (creates, then modifies,
// then moves, then deletes). Any precondition violation aborts the whole
// batch: no patches are returned.
func (s *Synthesizer) Synthesize(plan types.ChangePlan) ([]types.Patch, error) {
	patches := make([]types.Patch, 0, len(plan.Steps))

	for _, step := range plan.Steps {
		p, err := s.synthesizeStep(step)
		if err != nil {
			logging.PatchDebug("synthesis aborted at %s (%s): %v", step.Path, step.Operation, err)
			return nil, err
		}
		patches = append(patches, *p)
	}

	sort.SliceStable(patches, func(i, j int) bool {
		return opRank(patches[i].Operation) < opRank(patches[j].Operation)
	})

	logging.PatchDebug("synthesized %d patches from %d steps", len(patches), len(plan.Steps))
	return patches, nil
}

func (s *Synthesizer) synthesizeStep(step types.ChangeStep) (*types.Patch, error) {
	path := filepath.Join(s.workspace, step.Path)

	switch step.Operation {
	case types.PatchCreate:
		if fileExists(path) {
			return nil, fmt.Errorf("%w: create target %s already exists", types.ErrPatchPrecondition, step.Path)
		}
		return &types.Patch{
			FilePath:  step.Path,
			Operation: types.PatchCreate,
			Content:   step.Content,
		}, nil

	case types.PatchModify:
		original, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: modify target %s is not readable: %v", types.ErrPatchPrecondition, step.Path, err)
		}
		p := &types.Patch{
			FilePath:        step.Path,
			Operation:       types.PatchModify,
			OriginalContent: string(original),
		}
		if len(step.Edits) > 0 {
			edits, err := captureEdits(string(original), step.Edits)
			if err != nil {
				return nil, err
			}
			p.Edits = edits
			return p, nil
		}
		if err := checkGeneratedContent(step.Path, string(original), step.Content); err != nil {
			return nil, err
		}
		p.Content = step.Content
		return p, nil

	case types.PatchDelete:
		original, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: delete target %s is not readable: %v", types.ErrPatchPrecondition, step.Path, err)
		}
		return &types.Patch{
			FilePath:        step.Path,
			Operation:       types.PatchDelete,
			OriginalContent: string(original),
		}, nil

	case types.PatchMove:
		if step.NewPath == "" {
			return nil, fmt.Errorf("%w: move of %s has no destination", types.ErrPatchPrecondition, step.Path)
		}
		original, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: move source %s is not readable: %v", types.ErrPatchPrecondition, step.Path, err)
		}
		if fileExists(filepath.Join(s.workspace, step.NewPath)) {
			return nil, fmt.Errorf("%w: move destination %s already exists", types.ErrPatchPrecondition, step.NewPath)
		}
		return &types.Patch{
			FilePath:        step.Path,
			Operation:       types.PatchMove,
			NewPath:         step.NewPath,
			OriginalContent: string(original),
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown operation %q for %s", types.ErrPatchPrecondition, step.Operation, step.Path)
	}
}

// opRank defines the apply order: creates first so later edits can reference
// new files, deletes last so nothing is destroyed before the rest commits.
func opRank(op types.PatchOperation) int {
	switch op {
	case types.PatchCreate:
		return 0
	case types.PatchModify:
		return 1
	case types.PatchMove:
		return 2
	case types.PatchDelete:
		return 3
	default:
		return 4
	}
}

// captureEdits validates line ranges, captures the pre-image of each edited
// range, and returns the edits sorted by descending start line so applying
// them in order never shifts a later edit's coordinates.
func captureEdits(original string, edits []types.AppliedEdit) ([]types.AppliedEdit, error) {
	lines := splitLines(original)
	out := make([]types.AppliedEdit, len(edits))
	copy(out, edits)

	for i := range out {
		e := &out[i]
		if e.StartLine < 1 {
			return nil, fmt.Errorf("%w: edit start line %d out of range", types.ErrPatchPrecondition, e.StartLine)
		}
		switch e.Type {
		case types.EditInsert:
			if e.StartLine > len(lines)+1 {
				return nil, fmt.Errorf("%w: insert at line %d beyond end of file (%d lines)",
					types.ErrPatchPrecondition, e.StartLine, len(lines))
			}
		case types.EditReplace, types.EditDelete:
			if e.EndLine < e.StartLine || e.EndLine > len(lines) {
				return nil, fmt.Errorf("%w: edit range %d-%d out of range (%d lines)",
					types.ErrPatchPrecondition, e.StartLine, e.EndLine, len(lines))
			}
			e.OriginalContent = strings.Join(lines[e.StartLine-1:e.EndLine], "\n")
		default:
			return nil, fmt.Errorf("%w: unknown edit type %q", types.ErrPatchPrecondition, e.Type)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartLine > out[j].StartLine
	})
	return out, nil
}

// structuralKeywords are tokens whose complete disappearance from generated
// content suggests the generator truncated or mangled the file.
var structuralKeywords = []string{
	"import",
	"export",
	"function",
	"class",
	"interface",
	"return",
}

// checkGeneratedContent is the sanity gate on generator output for modify
// patches: reject replacements whose length is wildly off from the original
// (ratio below 0.5 or above 2.0) or that drop a structural keyword the
// original contained.
func checkGeneratedContent(path, original, generated string) error {
	if len(original) == 0 {
		return nil
	}

	ratio := float64(len(generated)) / float64(len(original))
	if ratio < 0.5 || ratio > 2.0 {
		return fmt.Errorf("%w: %s replacement length ratio %.2f outside [0.5, 2.0]",
			types.ErrInvalidGeneratedContent, path, ratio)
	}

	for _, kw := range structuralKeywords {
		if strings.Contains(original, kw) && !strings.Contains(generated, kw) {
			return fmt.Errorf("%w: %s replacement drops structural keyword %q",
				types.ErrInvalidGeneratedContent, path, kw)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// splitLines splits content into lines without inventing a trailing empty
// line for a final newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
