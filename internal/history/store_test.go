package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAttempt_RoundTrip(t *testing.T) {
	s := openStore(t)

	attempt := types.HealingAttempt{
		ID:        "att-1",
		Timestamp: time.Now().UTC(),
		OriginalIssues: []types.ValidationIssue{
			{Type: types.ValidationStructure, Severity: types.IssueBlocking, Message: "unclosed '{'", File: "a.ts"},
		},
		SelectedFix: &types.SuggestedFix{
			ID:          "fix-1",
			Description: "regenerate the broken region from diagnostics",
			Type:        types.FixAutomatic,
		},
		ApprovalRequired: false,
		Success:          true,
	}

	require.NoError(t, s.RecordAttempt("succeeded", attempt))

	recent, err := s.RecentAttempts(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "att-1", recent[0].ID)
	assert.Equal(t, "succeeded", recent[0].Result)
	assert.Equal(t, "automatic", recent[0].FixType)
	assert.Equal(t, 1, recent[0].IssuesBefore)
	assert.Equal(t, 0, recent[0].IssuesAfter)

	full, err := s.Attempt("att-1")
	require.NoError(t, err)
	assert.True(t, full.Success)
	require.NotNil(t, full.SelectedFix)
	assert.Equal(t, "fix-1", full.SelectedFix.ID)
	require.Len(t, full.OriginalIssues, 1)
	assert.Equal(t, types.ValidationStructure, full.OriginalIssues[0].Type)
}

func TestRecentAttempts_NewestFirst(t *testing.T) {
	s := openStore(t)

	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.RecordAttempt("failed", types.HealingAttempt{
			ID:        id,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	recent, err := s.RecentAttempts(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new", recent[0].ID)
	assert.Equal(t, "mid", recent[1].ID)
}

func TestRecordValidationAndCheckpoint(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.RecordValidation(&types.ValidationResult{
		Passed:   false,
		Summary:  types.ValidationSummary{Total: 4, Failed: 2, Blockers: 1, Warnings: 3},
		Duration: 120 * time.Millisecond,
	}))

	require.NoError(t, s.RecordCheckpoint(&types.Checkpoint{
		ID:          "cp-1",
		Timestamp:   time.Now().UTC(),
		Description: "pre-apply",
		FileSnapshots: map[string]types.FileSnapshot{
			"a.ts": {Existed: true},
		},
	}))

	// Re-recording the same checkpoint is idempotent.
	require.NoError(t, s.RecordCheckpoint(&types.Checkpoint{
		ID:        "cp-1",
		Timestamp: time.Now().UTC(),
	}))
}

func TestAttempt_Unknown(t *testing.T) {
	s := openStore(t)
	_, err := s.Attempt("ghost")
	assert.Error(t, err)
}
