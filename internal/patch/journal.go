package patch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"remedy/internal/types"
)

// journalFile is the write-ahead record of the in-flight batch, relative to
// the workspace dotdir.
const journalFile = ".remedy/journal.json"

// JournalEntry records one in-flight patch batch. It exists on disk only
// between the start of a commit and its completion (or rollback); finding
// one at startup means a previous run died mid-apply.
type JournalEntry struct {
	IntentID  string          `json:"intent_id"`
	Timestamp time.Time       `json:"timestamp"`
	Patches   []JournalRecord `json:"patches"`
}

// JournalRecord is the journal's view of a single patch.
type JournalRecord struct {
	Operation types.PatchOperation `json:"operation"`
	Path      string               `json:"path"`
	NewPath   string               `json:"new_path,omitempty"`
}

// Journal is the write-ahead log for patch batches.
type Journal struct {
	path string
}

// NewJournal creates a journal rooted at workspace.
func NewJournal(workspace string) *Journal {
	return &Journal{path: filepath.Join(workspace, journalFile)}
}

// Write records the batch before any commit touches disk.
func (j *Journal) Write(intent types.ActionIntent, patches []types.Patch) error {
	entry := JournalEntry{
		IntentID:  intent.ID,
		Timestamp: time.Now(),
		Patches:   make([]JournalRecord, 0, len(patches)),
	}
	for _, p := range patches {
		entry.Patches = append(entry.Patches, JournalRecord{
			Operation: p.Operation,
			Path:      p.FilePath,
			NewPath:   p.NewPath,
		})
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(j.path, data, 0644)
}

// Clear removes the journal after a successful commit or rollback.
func (j *Journal) Clear() error {
	err := os.Remove(j.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Pending returns the journal entry left behind by an interrupted apply, or
// nil if the last batch completed cleanly.
func (j *Journal) Pending() (*JournalEntry, error) {
	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry JournalEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt apply journal at %s: %w", j.path, err)
	}
	return &entry, nil
}
