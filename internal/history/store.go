// Package history persists the audit trail of healing runs in SQLite:
// every attempt, validation run, and checkpoint reference survives the
// process so a later session can explain what the loop did and why.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"remedy/internal/logging"
	"remedy/internal/types"
)

// Store is the SQLite-backed audit store.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the audit database at .remedy/history.db under the
// workspace.
func Open(workspace string) (*Store, error) {
	dir := filepath.Join(workspace, ".remedy")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	path := filepath.Join(dir, "history.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.HistoryDebug("could not set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.HistoryDebug("could not set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.HistoryDebug("could not set synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.HistoryDebug("history store opened at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS healing_attempts (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			result TEXT NOT NULL,
			approval_required INTEGER NOT NULL,
			fix_description TEXT,
			fix_type TEXT,
			error TEXT,
			issues_before INTEGER NOT NULL,
			issues_after INTEGER NOT NULL,
			detail TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON healing_attempts(timestamp)`,
		`CREATE TABLE IF NOT EXISTS validation_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			passed INTEGER NOT NULL,
			total INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			blockers INTEGER NOT NULL,
			warnings INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			description TEXT,
			files INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize history schema: %w", err)
		}
	}
	return nil
}

// RecordAttempt stores one healing attempt. Satisfies healing.Recorder.
func (s *Store) RecordAttempt(result string, attempt types.HealingAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	detail, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to encode attempt %s: %w", attempt.ID, err)
	}

	fixDesc, fixType := "", ""
	if attempt.SelectedFix != nil {
		fixDesc = attempt.SelectedFix.Description
		fixType = string(attempt.SelectedFix.Type)
	}

	_, err = s.db.Exec(`INSERT INTO healing_attempts
		(id, timestamp, result, approval_required, fix_description, fix_type, error, issues_before, issues_after, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.Timestamp, result, boolInt(attempt.ApprovalRequired),
		fixDesc, fixType, attempt.Error,
		len(attempt.OriginalIssues), len(attempt.NewIssues), string(detail))
	if err != nil {
		return fmt.Errorf("failed to record attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// RecordValidation stores the summary of one validation run.
func (s *Store) RecordValidation(res *types.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO validation_runs
		(timestamp, passed, total, failed, blockers, warnings, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now(), boolInt(res.Passed), res.Summary.Total, res.Summary.Failed,
		res.Summary.Blockers, res.Summary.Warnings, res.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record validation run: %w", err)
	}
	return nil
}

// RecordCheckpoint stores a checkpoint reference. Snapshot content stays in
// memory; the audit trail only needs to know the checkpoint existed.
func (s *Store) RecordCheckpoint(cp *types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR REPLACE INTO checkpoints (id, timestamp, description, files)
		VALUES (?, ?, ?, ?)`,
		cp.ID, cp.Timestamp, cp.Description, len(cp.FileSnapshots))
	if err != nil {
		return fmt.Errorf("failed to record checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// AttemptRecord is the stored view of one healing attempt.
type AttemptRecord struct {
	ID               string
	Timestamp        time.Time
	Result           string
	ApprovalRequired bool
	FixDescription   string
	FixType          string
	Error            string
	IssuesBefore     int
	IssuesAfter      int
}

// RecentAttempts returns up to limit attempts, newest first.
func (s *Store) RecentAttempts(limit int) ([]AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, timestamp, result, approval_required,
		fix_description, fix_type, error, issues_before, issues_after
		FROM healing_attempts ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var r AttemptRecord
		var approval int
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Result, &approval,
			&r.FixDescription, &r.FixType, &r.Error, &r.IssuesBefore, &r.IssuesAfter); err != nil {
			return nil, err
		}
		r.ApprovalRequired = approval != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Attempt loads the full stored attempt by ID.
func (s *Store) Attempt(id string) (*types.HealingAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detail string
	err := s.db.QueryRow(`SELECT detail FROM healing_attempts WHERE id = ?`, id).Scan(&detail)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no recorded attempt %s", id)
	}
	if err != nil {
		return nil, err
	}

	var attempt types.HealingAttempt
	if err := json.Unmarshal([]byte(detail), &attempt); err != nil {
		return nil, fmt.Errorf("corrupt attempt record %s: %w", id, err)
	}
	return &attempt, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
