// Package store is the optional SQLite run journal. It records what each run
// did; runs are never resumed from it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("run journal opened", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Run Operations
// ============================================================================

// CreateRun inserts a new run record
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	const query = `
		INSERT INTO runs (
			id, command, environments, locale, mode, start_time, end_time,
			entries_succeeded, entries_failed, assets_succeeded, assets_failed,
			skipped, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if run.Status == "" {
		run.Status = StatusRunning
	}

	_, err := s.db.ExecContext(ctx,
		query,
		run.ID, run.Command, run.Environments, run.Locale, run.Mode,
		run.StartTime, run.EndTime, run.EntriesSucceeded, run.EntriesFailed,
		run.AssetsSucceeded, run.AssetsFailed, run.Skipped, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final counts and status of a run
func (s *Store) FinishRun(ctx context.Context, run *Run) error {
	const query = `
		UPDATE runs SET
			end_time = ?, entries_succeeded = ?, entries_failed = ?,
			assets_succeeded = ?, assets_failed = ?, skipped = ?,
			status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx,
		query,
		run.EndTime, run.EntriesSucceeded, run.EntriesFailed,
		run.AssetsSucceeded, run.AssetsFailed, run.Skipped,
		run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

const runColumns = `
	id, command, environments, locale, COALESCE(mode, ''), start_time, end_time,
	entries_succeeded, entries_failed, assets_succeeded, assets_failed,
	skipped, status, COALESCE(error_message, '')
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID, &run.Command, &run.Environments, &run.Locale, &run.Mode,
		&run.StartTime, &run.EndTime, &run.EntriesSucceeded, &run.EntriesFailed,
		&run.AssetsSucceeded, &run.AssetsFailed, &run.Skipped, &run.Status, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, optionally filtered by command
func (s *Store) ListRuns(ctx context.Context, command string, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []any

	if command != "" {
		query += " WHERE command = ?"
		args = append(args, command)
	}

	query += " ORDER BY start_time DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// FailedJob Operations
// ============================================================================

// AddFailedJob records a job that failed during a run and sets its ID
func (s *Store) AddFailedJob(ctx context.Context, rec *FailedJob) error {
	const query = `
		INSERT INTO failed_jobs (
			run_id, kind, uid, title, content_type, locale, action, error, failed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx,
		query,
		rec.RunID, rec.Kind, rec.UID, rec.Title, rec.ContentType,
		rec.Locale, rec.Action, rec.Error, rec.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert failed job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListFailedJobs retrieves the failed jobs of a run in insertion order
func (s *Store) ListFailedJobs(ctx context.Context, runID string) ([]FailedJob, error) {
	const query = `
		SELECT id, run_id, kind, uid, COALESCE(title, ''), COALESCE(content_type, ''),
		       COALESCE(locale, ''), action, COALESCE(error, ''), failed_at
		FROM failed_jobs WHERE run_id = ? ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed jobs: %w", err)
	}
	defer rows.Close()

	var recs []FailedJob
	for rows.Next() {
		var rec FailedJob
		err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Kind, &rec.UID, &rec.Title, &rec.ContentType,
			&rec.Locale, &rec.Action, &rec.Error, &rec.FailedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failed job: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failed jobs: %w", err)
	}

	return recs, nil
}
