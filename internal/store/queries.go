package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed-width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Snapshot log operations

// RecordEvent appends an entry to the snapshot log.
func (s *Store) RecordEvent(snapshot, action, detail string) error {
	query := `
		INSERT INTO snapshot_events (snapshot, action, detail, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, snapshot, action, detail, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return wrap(err, "failed to record %s of %s", action, snapshot)
	}
	return nil
}

// Events returns log entries newest first. An empty snapshot returns entries
// for every snapshot; limit <= 0 means no limit.
func (s *Store) Events(snapshot string, limit int) ([]*Event, error) {
	query := `
		SELECT id, snapshot, action, COALESCE(detail, ''), created_at
		FROM snapshot_events
		WHERE (? = '' OR snapshot = ?)
		ORDER BY id DESC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(query, snapshot, snapshot, limit)
	if err != nil {
		return nil, wrap(err, "failed to list events")
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Snapshot, &e.Action, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at for event %d: %w", e.ID, err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// Restore run operations

// RecordRestore stores a restore run with its issues and returns the run ID.
// A run without an ID is assigned a new UUID.
func (s *Store) RecordRestore(run *RestoreRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO restore_runs
		(id, snapshot, started_at, finished_at, windows, tabs, restored, degraded, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.Exec(query,
		run.ID,
		run.Snapshot,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		run.Windows,
		run.Tabs,
		run.Restored,
		run.Degraded,
		run.Failed,
	)
	if err != nil {
		return "", wrap(err, "failed to insert restore run for %s", run.Snapshot)
	}

	for i, issue := range run.Issues {
		_, err := tx.Exec(`INSERT INTO restore_issues (run_id, seq, kind, message) VALUES (?, ?, ?, ?)`,
			run.ID, i, issue.Kind, issue.Message)
		if err != nil {
			return "", fmt.Errorf("failed to insert restore issue: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit restore run: %w", err)
	}
	return run.ID, nil
}

// GetRestoreRun retrieves a run and its issues by ID or by a prefix that
// matches exactly one ID.
func (s *Store) GetRestoreRun(id string) (*RestoreRun, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrRunNotFound)
	}
	query := `
		SELECT id, snapshot, started_at, finished_at, windows, tabs, restored, degraded, failed
		FROM restore_runs
		WHERE substr(id, 1, length(?)) = ?
		ORDER BY id = ? DESC, started_at DESC
		LIMIT 2
	`

	rows, err := s.db.Query(query, id, id, id)
	if err != nil {
		return nil, wrap(err, "failed to get restore run %s", id)
	}
	var matches []*RestoreRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan restore run row: %w", err)
		}
		matches = append(matches, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating restore runs: %w", err)
	}

	switch {
	case len(matches) == 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case len(matches) > 1 && matches[0].ID != id:
		return nil, fmt.Errorf("restore run id %s is ambiguous", id)
	}
	run := matches[0]
	id = run.ID

	rows, err = s.db.Query(`SELECT kind, message FROM restore_issues WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get issues for run %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var issue Issue
		if err := rows.Scan(&issue.Kind, &issue.Message); err != nil {
			return nil, fmt.Errorf("failed to scan issue row: %w", err)
		}
		run.Issues = append(run.Issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issues: %w", err)
	}
	return run, nil
}

// RestoreRuns returns runs newest first, without issues. An empty snapshot
// returns runs of every snapshot; limit <= 0 means no limit.
func (s *Store) RestoreRuns(snapshot string, limit int) ([]*RestoreRun, error) {
	query := `
		SELECT id, snapshot, started_at, finished_at, windows, tabs, restored, degraded, failed
		FROM restore_runs
		WHERE (? = '' OR snapshot = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(query, snapshot, snapshot, limit)
	if err != nil {
		return nil, wrap(err, "failed to list restore runs")
	}
	defer rows.Close()

	var runs []*RestoreRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan restore run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating restore runs: %w", err)
	}
	return runs, nil
}

// LastRestore returns when snapshot was last restored, or nil if never.
func (s *Store) LastRestore(snapshot string) (*time.Time, error) {
	var started sql.NullString
	err := s.db.QueryRow(`SELECT MAX(started_at) FROM restore_runs WHERE snapshot = ?`, snapshot).Scan(&started)
	if err != nil {
		return nil, wrap(err, "failed to get last restore of %s", snapshot)
	}
	if !started.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, started.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RestoreRun, error) {
	var run RestoreRun
	var started, finished string
	err := row.Scan(
		&run.ID,
		&run.Snapshot,
		&started,
		&finished,
		&run.Windows,
		&run.Tabs,
		&run.Restored,
		&run.Degraded,
		&run.Failed,
	)
	if err != nil {
		return nil, err
	}
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("failed to parse started_at for run %s: %w", run.ID, err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at for run %s: %w", run.ID, err)
	}
	return &run, nil
}
