package diff

import (
	"strings"
	"testing"
)

func TestCompute_NoChanges(t *testing.T) {
	fd := Compute("a.ts", "const x = 1\n", "const x = 1\n")
	if fd.HasChanges() {
		t.Errorf("identical content reported changes: %+v", fd.Hunks)
	}
	if fd.Unified() != "" {
		t.Error("unified output for identical content should be empty")
	}
}

func TestCompute_SingleLineChange(t *testing.T) {
	oldContent := "line1\nline2\nline3\nline4\nline5\nline6\nline7\nline8\n"
	newContent := "line1\nline2\nline3\nCHANGED\nline5\nline6\nline7\nline8\n"

	fd := Compute("a.ts", oldContent, newContent)
	if len(fd.Hunks) != 1 {
		t.Fatalf("hunks = %d, want 1", len(fd.Hunks))
	}

	var added, removed int
	for _, l := range fd.Hunks[0].Lines {
		switch l.Type {
		case LineAdded:
			added++
			if l.Content != "CHANGED" {
				t.Errorf("added line = %q", l.Content)
			}
		case LineRemoved:
			removed++
			if l.Content != "line4" {
				t.Errorf("removed line = %q", l.Content)
			}
		}
	}
	if added != 1 || removed != 1 {
		t.Errorf("added=%d removed=%d, want 1/1", added, removed)
	}
}

func TestCompute_NewAndDeletedFiles(t *testing.T) {
	created := Compute("new.ts", "", "hello\n")
	if !created.IsNew {
		t.Error("empty old content marks a new file")
	}
	deleted := Compute("old.ts", "hello\n", "")
	if !deleted.IsDelete {
		t.Error("empty new content marks a deletion")
	}
}

func TestUnified_Format(t *testing.T) {
	fd := Compute("src/app.ts", "a\nb\nc\n", "a\nB\nc\n")
	out := fd.Unified()

	if !strings.HasPrefix(out, "--- a/src/app.ts\n+++ b/src/app.ts\n") {
		t.Errorf("missing file header:\n%s", out)
	}
	if !strings.Contains(out, "@@ ") {
		t.Errorf("missing hunk header:\n%s", out)
	}
	if !strings.Contains(out, "-b\n") || !strings.Contains(out, "+B\n") {
		t.Errorf("missing change lines:\n%s", out)
	}
}

func TestCompute_DistantChangesSplitIntoHunks(t *testing.T) {
	var oldB, newB strings.Builder
	for i := 0; i < 30; i++ {
		oldB.WriteString("line\n")
		if i == 2 || i == 27 {
			newB.WriteString("edit\n")
		} else {
			newB.WriteString("line\n")
		}
	}

	fd := Compute("a.ts", oldB.String(), newB.String())
	if len(fd.Hunks) != 2 {
		t.Errorf("hunks = %d, want 2 for changes 25 lines apart", len(fd.Hunks))
	}
}
