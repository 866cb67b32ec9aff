package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"remedy/internal/logging"
	"remedy/internal/types"
)

// Fallback builds change plans for the narrow class of issues that have an
// exact mechanical fix, with no model involved. It is used when the Gemini
// generator is unavailable or its output was rejected.
type Fallback struct {
	workspace string
}

// NewFallback creates a fallback plan builder rooted at workspace.
func NewFallback(workspace string) *Fallback {
	return &Fallback{workspace: workspace}
}

// CanHandle reports whether every issue has a mechanical fix.
func (f *Fallback) CanHandle(issues []types.ValidationIssue) bool {
	if len(issues) == 0 {
		return false
	}
	for _, is := range issues {
		if is.Type != types.ValidationConventions || !is.Fixable {
			return false
		}
	}
	return true
}

// BuildPlan produces edit steps for the mechanical issues: stripping trailing
// whitespace from flagged lines and appending missing final newlines.
func (f *Fallback) BuildPlan(issues []types.ValidationIssue) (*types.ChangePlan, error) {
	if !f.CanHandle(issues) {
		return nil, fmt.Errorf("no deterministic fix for the given issues")
	}

	byFile := make(map[string][]types.ValidationIssue)
	var files []string
	for _, is := range issues {
		if _, seen := byFile[is.File]; !seen {
			files = append(files, is.File)
		}
		byFile[is.File] = append(byFile[is.File], is)
	}
	sort.Strings(files)

	plan := &types.ChangePlan{Description: "mechanical cleanup of convention issues"}
	for _, file := range files {
		step, err := f.fileStep(file, byFile[file])
		if err != nil {
			return nil, err
		}
		if step != nil {
			plan.Steps = append(plan.Steps, *step)
		}
	}

	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("issues were already fixed on disk")
	}
	logging.GeneratorDebug("fallback built %d steps for %d issues", len(plan.Steps), len(issues))
	return plan, nil
}

func (f *Fallback) fileStep(file string, issues []types.ValidationIssue) (*types.ChangeStep, error) {
	data, err := os.ReadFile(filepath.Join(f.workspace, file))
	if err != nil {
		return nil, fmt.Errorf("cannot read %s for mechanical fix: %w", file, err)
	}
	content := string(data)

	fixed := content
	for _, is := range issues {
		switch is.Message {
		case "trailing whitespace":
			lines := strings.Split(fixed, "\n")
			for i := range lines {
				lines[i] = strings.TrimRight(lines[i], " \t")
			}
			fixed = strings.Join(lines, "\n")
		case "missing final newline":
			if fixed != "" && !strings.HasSuffix(fixed, "\n") {
				fixed += "\n"
			}
		default:
			return nil, fmt.Errorf("no mechanical fix for %q in %s", is.Message, file)
		}
	}

	if fixed == content {
		return nil, nil
	}
	return &types.ChangeStep{
		Path:      file,
		Operation: types.PatchModify,
		Content:   fixed,
	}, nil
}
