package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"remedy/internal/types"
)

// FileSource reads diagnostics from .remedy/diagnostics.json, the drop file
// a host assistant or editor integration refreshes after each analysis pass.
// A missing file means no diagnostics, not an error.
type FileSource struct {
	path string
}

// NewFileSource creates a file-backed diagnostics source for the workspace.
func NewFileSource(workspace string) *FileSource {
	return &FileSource{path: filepath.Join(workspace, ".remedy", "diagnostics.json")}
}

// Diagnostics returns the current diagnostics, filtered to the given files
// when the list is non-empty.
func (s *FileSource) Diagnostics(ctx context.Context, files []string) ([]types.Diagnostic, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read diagnostics feed: %w", err)
	}

	var all []types.Diagnostic
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("corrupt diagnostics feed at %s: %w", s.path, err)
	}
	if len(files) == 0 {
		return all, nil
	}

	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[f] = true
	}
	var out []types.Diagnostic
	for _, d := range all {
		if want[d.File] {
			out = append(out, d)
		}
	}
	return out, nil
}
