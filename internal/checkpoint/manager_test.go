package checkpoint

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remedy/internal/types"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func intentFor(files ...string) types.ActionIntent {
	return types.ActionIntent{
		ID:            "intent-1",
		Type:          types.ActionModify,
		FilesAffected: files,
	}
}

// TestCreateRestore_RoundTrip: restore(create(intent)) with no intervening
// mutation leaves every affected file byte-identical.
func TestCreateRestore_RoundTrip(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "src/main.ts", "const x = 1\n")
	writeFile(t, ws, "src/util.ts", "export const y = 2\n")

	m := NewManager(ws, nil)
	cp, err := m.Create(intentFor("src/main.ts", "src/util.ts"), "round trip")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Restore(cp.ID); err != nil {
		t.Fatal(err)
	}

	for rel, want := range map[string]string{
		"src/main.ts": "const x = 1\n",
		"src/util.ts": "export const y = 2\n",
	} {
		got, err := os.ReadFile(filepath.Join(ws, rel))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if !bytes.Equal(got, []byte(want)) {
			t.Errorf("%s = %q, want %q", rel, got, want)
		}
	}
}

// TestRestore_OverwritesMutation verifies restore undoes a modification.
func TestRestore_OverwritesMutation(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "a.ts", "original\n")

	m := NewManager(ws, nil)
	cp, err := m.Create(intentFor("a.ts"), "before edit")
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, ws, "a.ts", "mutated\n")

	if err := m.Restore(cp.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(filepath.Join(ws, "a.ts"))
	if string(got) != "original\n" {
		t.Errorf("restored content = %q, want %q", got, "original\n")
	}
}

// TestRestore_DeletesCreatedFile verifies an absent-at-checkpoint file is
// removed on restore, and its freshly created empty directory goes with it.
func TestRestore_DeletesCreatedFile(t *testing.T) {
	ws := t.TempDir()

	m := NewManager(ws, nil)
	cp, err := m.Create(intentFor("newdir/new.ts"), "before create")
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, ws, "newdir/new.ts", "fresh\n")

	if err := m.Restore(cp.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(ws, "newdir/new.ts")); !os.IsNotExist(err) {
		t.Error("expected created file to be removed on restore")
	}
	if _, err := os.Stat(filepath.Join(ws, "newdir")); !os.IsNotExist(err) {
		t.Error("expected now-empty created directory to be removed on restore")
	}
}

// TestRestore_LeavesNonEmptyDirectory documents the best-effort directory
// semantics: a directory holding an unrelated file survives restore.
func TestRestore_LeavesNonEmptyDirectory(t *testing.T) {
	ws := t.TempDir()

	m := NewManager(ws, nil)
	cp, err := m.Create(intentFor("shared/new.ts"), "before create")
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, ws, "shared/new.ts", "fresh\n")
	writeFile(t, ws, "shared/unrelated.ts", "someone else\n")

	if err := m.Restore(cp.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(ws, "shared/unrelated.ts")); err != nil {
		t.Error("unrelated file must survive restore")
	}
	if _, err := os.Stat(filepath.Join(ws, "shared")); err != nil {
		t.Error("non-empty directory must survive restore")
	}
}

// TestEviction_CapTwenty verifies the ring keeps only the newest 20.
func TestEviction_CapTwenty(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "a.ts", "x\n")

	m := NewManager(ws, nil)
	var first *types.Checkpoint
	for i := 0; i < MaxCheckpoints+5; i++ {
		cp, err := m.Create(intentFor("a.ts"), "cp")
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = cp
		}
		// Distinct timestamps so eviction order is well-defined.
		time.Sleep(time.Millisecond)
	}

	if got := len(m.List()); got != MaxCheckpoints {
		t.Errorf("stored checkpoints = %d, want %d", got, MaxCheckpoints)
	}
	if _, ok := m.Get(first.ID); ok {
		t.Error("oldest checkpoint should have been evicted")
	}
}

// TestRestore_UnknownID returns ErrCheckpointNotFound.
func TestRestore_UnknownID(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	err := m.Restore("nope")
	if err == nil {
		t.Fatal("expected error for unknown checkpoint")
	}
}
