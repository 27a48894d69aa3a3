// Package sqlite persists run checkpoints in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	director "github.com/charles-forsyth/director-agent"
)

// Store is a director.Checkpointer backed by SQLite. Run headers and job
// states live in separate tables so a job transition is one upserted row,
// not a rewrite of the whole run.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the checkpoint database and applies
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun upserts the run header.
func (s *Store) SaveRun(ctx context.Context, checkpoint *director.Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, pipeline_name, status, error, start_time, end_time, checkpoint_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id) DO UPDATE SET
            pipeline_name = excluded.pipeline_name,
            status = excluded.status,
            error = excluded.error,
            start_time = excluded.start_time,
            end_time = excluded.end_time,
            checkpoint_at = excluded.checkpoint_at`,
		checkpoint.RunID,
		checkpoint.PipelineName,
		checkpoint.Status,
		checkpoint.Error,
		formatTime(checkpoint.StartTime),
		formatTime(checkpoint.EndTime),
		formatTime(checkpoint.CheckpointAt),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", checkpoint.RunID, err)
	}
	return nil
}

// SaveJob upserts one job state. The write is a single statement, so a
// reader sees either the previous record or the new one.
func (s *Store) SaveJob(ctx context.Context, runID string, job *director.JobState) error {
	state, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (run_id, job_id, status, state, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(run_id, job_id) DO UPDATE SET
            status = excluded.status,
            state = excluded.state,
            updated_at = excluded.updated_at`,
		runID,
		job.JobID,
		string(job.Status),
		string(state),
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("save job %s/%s: %w", runID, job.JobID, err)
	}
	return nil
}

// LoadRun assembles the full checkpoint for a run.
func (s *Store) LoadRun(ctx context.Context, runID string) (*director.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT pipeline_name, status, error, start_time, end_time, checkpoint_at
         FROM runs WHERE run_id = ?`, runID)

	checkpoint := &director.Checkpoint{RunID: runID}
	var startTime, endTime, checkpointAt string
	err := row.Scan(
		&checkpoint.PipelineName,
		&checkpoint.Status,
		&checkpoint.Error,
		&startTime,
		&endTime,
		&checkpointAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, director.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if checkpoint.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if checkpoint.EndTime, err = parseTime(endTime); err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if checkpoint.CheckpointAt, err = parseTime(checkpointAt); err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT state FROM jobs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("load jobs for %s: %w", runID, err)
	}
	defer rows.Close()

	checkpoint.JobStates = make(map[string]*director.JobState)
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scan job state: %w", err)
		}
		var job director.JobState
		if err := json.Unmarshal([]byte(state), &job); err != nil {
			return nil, fmt.Errorf("unmarshal job state: %w", err)
		}
		checkpoint.JobStates[job.JobID] = &job
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs for %s: %w", runID, err)
	}
	return checkpoint, nil
}

// ListRuns returns summaries of all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]*director.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	summaries := make([]*director.RunSummary, 0, len(ids))
	for _, id := range ids {
		checkpoint, err := s.LoadRun(ctx, id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, director.NewRunSummary(checkpoint))
	}
	director.SortRunSummaries(summaries)
	return summaries, nil
}

// DeleteRun removes a run and its job records.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete jobs for %s: %w", runID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
