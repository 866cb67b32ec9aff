package patch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"remedy/internal/checkpoint"
	"remedy/internal/types"
)

func writeFile(t *testing.T, ws, rel, content string) {
	t.Helper()
	path := filepath.Join(ws, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, ws, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ws, rel))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// snapshotTree maps every file under ws (outside .remedy) to its content.
func snapshotTree(t *testing.T, ws string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	err := filepath.Walk(ws, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(ws, path)
		if strings.HasPrefix(rel, ".remedy") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestSynthesize_PreconditionAbortsWholeBatch(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "exists.ts", "x\n")

	s := NewSynthesizer(ws)
	plan := types.ChangePlan{Steps: []types.ChangeStep{
		{Path: "new.ts", Operation: types.PatchCreate, Content: "ok\n"},
		{Path: "exists.ts", Operation: types.PatchCreate, Content: "clash\n"},
	}}

	patches, err := s.Synthesize(plan)
	if !errors.Is(err, types.ErrPatchPrecondition) {
		t.Fatalf("err = %v, want ErrPatchPrecondition", err)
	}
	if patches != nil {
		t.Errorf("expected no patches on precondition failure, got %d", len(patches))
	}
}

func TestSynthesize_MovePreconditions(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "src.ts", "x\n")
	writeFile(t, ws, "dst.ts", "y\n")

	s := NewSynthesizer(ws)
	_, err := s.Synthesize(types.ChangePlan{Steps: []types.ChangeStep{
		{Path: "src.ts", Operation: types.PatchMove, NewPath: "dst.ts"},
	}})
	if !errors.Is(err, types.ErrPatchPrecondition) {
		t.Fatalf("occupied destination: err = %v, want ErrPatchPrecondition", err)
	}

	_, err = s.Synthesize(types.ChangePlan{Steps: []types.ChangeStep{
		{Path: "missing.ts", Operation: types.PatchMove, NewPath: "other.ts"},
	}})
	if !errors.Is(err, types.ErrPatchPrecondition) {
		t.Fatalf("missing source: err = %v, want ErrPatchPrecondition", err)
	}
}

func TestSynthesize_ApplyOrder(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "mod.ts", "a\n")
	writeFile(t, ws, "del.ts", "b\n")
	writeFile(t, ws, "mv.ts", "c\n")

	s := NewSynthesizer(ws)
	patches, err := s.Synthesize(types.ChangePlan{Steps: []types.ChangeStep{
		{Path: "del.ts", Operation: types.PatchDelete},
		{Path: "mv.ts", Operation: types.PatchMove, NewPath: "moved.ts"},
		{Path: "mod.ts", Operation: types.PatchModify, Content: "aa\n"},
		{Path: "new.ts", Operation: types.PatchCreate, Content: "n\n"},
	}})
	if err != nil {
		t.Fatal(err)
	}

	var ops []types.PatchOperation
	for _, p := range patches {
		ops = append(ops, p.Operation)
	}
	want := []types.PatchOperation{types.PatchCreate, types.PatchModify, types.PatchMove, types.PatchDelete}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("apply order = %v, want %v", ops, want)
		}
	}
}

func TestSynthesize_EditsCapturePreImagesDescending(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "a.ts", "one\ntwo\nthree\nfour\n")

	s := NewSynthesizer(ws)
	patches, err := s.Synthesize(types.ChangePlan{Steps: []types.ChangeStep{
		{Path: "a.ts", Operation: types.PatchModify, Edits: []types.AppliedEdit{
			{Type: types.EditReplace, StartLine: 1, EndLine: 1, Content: "ONE"},
			{Type: types.EditDelete, StartLine: 3, EndLine: 4},
		}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	edits := patches[0].Edits
	if edits[0].StartLine != 3 || edits[1].StartLine != 1 {
		t.Fatalf("edits not sorted descending: %+v", edits)
	}
	if edits[0].OriginalContent != "three\nfour" {
		t.Errorf("delete pre-image = %q, want %q", edits[0].OriginalContent, "three\nfour")
	}
	if edits[1].OriginalContent != "one" {
		t.Errorf("replace pre-image = %q, want %q", edits[1].OriginalContent, "one")
	}
}

func TestSynthesize_ContentSanityGate(t *testing.T) {
	ws := t.TempDir()
	original := "import { x } from './x'\nexport function f() { return x }\n"
	writeFile(t, ws, "a.ts", original)

	s := NewSynthesizer(ws)

	// Truncated replacement: ratio below 0.5.
	_, err := s.Synthesize(types.ChangePlan{Steps: []types.ChangeStep{
		{Path: "a.ts", Operation: types.PatchModify, Content: "import x\n"},
	}})
	if !errors.Is(err, types.ErrInvalidGeneratedContent) {
		t.Errorf("truncated content: err = %v, want ErrInvalidGeneratedContent", err)
	}

	// Dropped structural keyword at a plausible length.
	noExport := "import { x } from './x'\nfunction f() { /* padding */ return x }\n"
	_, err = s.Synthesize(types.ChangePlan{Steps: []types.ChangeStep{
		{Path: "a.ts", Operation: types.PatchModify, Content: noExport},
	}})
	if !errors.Is(err, types.ErrInvalidGeneratedContent) {
		t.Errorf("dropped keyword: err = %v, want ErrInvalidGeneratedContent", err)
	}

	// Reasonable replacement passes.
	ok := "import { x } from './x'\nexport function f() { return x + 1 }\n"
	if _, err := s.Synthesize(types.ChangePlan{Steps: []types.ChangeStep{
		{Path: "a.ts", Operation: types.PatchModify, Content: ok},
	}}); err != nil {
		t.Errorf("valid content rejected: %v", err)
	}
}

func TestApply_CommitsBatch(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "mod.ts", "old\nkeep\n")
	writeFile(t, ws, "del.ts", "gone\n")
	writeFile(t, ws, "mv.ts", "payload\n")

	cpm := checkpoint.NewManager(ws, nil)
	a := NewApplier(ws, cpm)

	s := NewSynthesizer(ws)
	patches, err := s.Synthesize(types.ChangePlan{Steps: []types.ChangeStep{
		{Path: "new.ts", Operation: types.PatchCreate, Content: "fresh\n"},
		{Path: "mod.ts", Operation: types.PatchModify, Edits: []types.AppliedEdit{
			{Type: types.EditReplace, StartLine: 1, EndLine: 1, Content: "new"},
		}},
		{Path: "mv.ts", Operation: types.PatchMove, NewPath: "sub/moved.ts"},
		{Path: "del.ts", Operation: types.PatchDelete},
	}})
	if err != nil {
		t.Fatal(err)
	}

	cp, err := a.Apply(types.ActionIntent{ID: "i1", Type: types.ActionModify, Description: "batch"}, patches)
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil {
		t.Fatal("expected a pre-apply checkpoint")
	}

	if got := readFile(t, ws, "new.ts"); got != "fresh\n" {
		t.Errorf("new.ts = %q", got)
	}
	if got := readFile(t, ws, "mod.ts"); got != "new\nkeep\n" {
		t.Errorf("mod.ts = %q", got)
	}
	if got := readFile(t, ws, "sub/moved.ts"); got != "payload\n" {
		t.Errorf("moved.ts = %q", got)
	}
	if _, err := os.Stat(filepath.Join(ws, "del.ts")); !os.IsNotExist(err) {
		t.Error("del.ts should be gone")
	}
	if _, err := os.Stat(filepath.Join(ws, "mv.ts")); !os.IsNotExist(err) {
		t.Error("mv.ts should be gone after move")
	}

	pending, err := NewJournal(ws).Pending()
	if err != nil {
		t.Fatal(err)
	}
	if pending != nil {
		t.Error("journal should be cleared after a clean commit")
	}
}

// TestApply_MidBatchFailureRollsBackExactly: failing the middle commit of a
// batch must leave the tree byte-identical to the pre-batch state.
func TestApply_MidBatchFailureRollsBackExactly(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "a.ts", "alpha\n")
	writeFile(t, ws, "b.ts", "beta\n")
	writeFile(t, ws, "c.ts", "gamma\n")
	writeFile(t, ws, "d.ts", "delta\n")

	before := snapshotTree(t, ws)

	cpm := checkpoint.NewManager(ws, nil)
	a := NewApplier(ws, cpm)

	s := NewSynthesizer(ws)
	patches, err := s.Synthesize(types.ChangePlan{Steps: []types.ChangeStep{
		{Path: "a.ts", Operation: types.PatchModify, Content: "ALPHA changed\n"},
		{Path: "b.ts", Operation: types.PatchModify, Content: "BETA changed\n"},
		{Path: "c.ts", Operation: types.PatchModify, Content: "GAMMA changed\n"},
		{Path: "d.ts", Operation: types.PatchDelete},
	}})
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("disk on fire")
	a.commitHook = func(i int, p types.Patch) error {
		if i == len(patches)/2 {
			return boom
		}
		return nil
	}

	_, err = a.Apply(types.ActionIntent{ID: "i2", Type: types.ActionModify, Description: "doomed"}, patches)
	if err == nil {
		t.Fatal("expected apply to fail")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped commit failure", err)
	}
	if errors.Is(err, types.ErrPartialApply) {
		t.Fatalf("rollback succeeded, err must not be ErrPartialApply: %v", err)
	}

	after := snapshotTree(t, ws)
	if len(after) != len(before) {
		t.Fatalf("tree has %d files after rollback, want %d", len(after), len(before))
	}
	for rel, want := range before {
		if got, ok := after[rel]; !ok || got != want {
			t.Errorf("%s = %q after rollback, want %q", rel, got, want)
		}
	}
}

func TestApply_StageFailureLeavesDiskUntouched(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "a.ts", "alpha\n")

	cpm := checkpoint.NewManager(ws, nil)
	a := NewApplier(ws, cpm)

	// A patch whose target vanished after synthesis.
	patches := []types.Patch{
		{FilePath: "a.ts", Operation: types.PatchModify, Content: "changed\n"},
		{FilePath: "ghost.ts", Operation: types.PatchDelete},
	}

	_, err := a.Apply(types.ActionIntent{ID: "i3", Type: types.ActionModify}, patches)
	if !errors.Is(err, types.ErrPatchPrecondition) {
		t.Fatalf("err = %v, want ErrPatchPrecondition", err)
	}
	if got := readFile(t, ws, "a.ts"); got != "alpha\n" {
		t.Errorf("a.ts = %q, staging failure must not write", got)
	}
}

func TestApplyEdits_BottomUp(t *testing.T) {
	content := "one\ntwo\nthree\nfour\n"
	edits := []types.AppliedEdit{
		{Type: types.EditDelete, StartLine: 4, EndLine: 4},
		{Type: types.EditInsert, StartLine: 3, Content: "two-and-a-half"},
		{Type: types.EditReplace, StartLine: 1, EndLine: 2, Content: "ONE\nTWO"},
	}

	got, err := applyEdits(content, edits)
	if err != nil {
		t.Fatal(err)
	}
	want := "ONE\nTWO\ntwo-and-a-half\nthree\n"
	if got != want {
		t.Errorf("applyEdits = %q, want %q", got, want)
	}
}

func TestJournal_PendingAfterInterruption(t *testing.T) {
	ws := t.TempDir()
	j := NewJournal(ws)

	intent := types.ActionIntent{ID: "i4"}
	patches := []types.Patch{{FilePath: "a.ts", Operation: types.PatchModify}}
	if err := j.Write(intent, patches); err != nil {
		t.Fatal(err)
	}

	pending, err := j.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if pending == nil || pending.IntentID != "i4" || len(pending.Patches) != 1 {
		t.Fatalf("pending = %+v, want intent i4 with one patch", pending)
	}

	if err := j.Clear(); err != nil {
		t.Fatal(err)
	}
	pending, err = j.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if pending != nil {
		t.Error("expected no pending entry after clear")
	}
}
