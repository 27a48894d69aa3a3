// Package postgres persists run checkpoints in PostgreSQL, for deployments
// where several hosts share one run store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	director "github.com/charles-forsyth/director-agent"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id        TEXT PRIMARY KEY,
    pipeline_name TEXT NOT NULL,
    status        TEXT NOT NULL,
    error         TEXT NOT NULL DEFAULT '',
    start_time    TIMESTAMPTZ,
    end_time      TIMESTAMPTZ,
    checkpoint_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS jobs (
    run_id     TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
    job_id     TEXT NOT NULL,
    status     TEXT NOT NULL,
    state      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, job_id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_run_status ON jobs (run_id, status);
`

// Store is a director.Checkpointer backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
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
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         ON CONFLICT (run_id) DO UPDATE SET
            pipeline_name = EXCLUDED.pipeline_name,
            status = EXCLUDED.status,
            error = EXCLUDED.error,
            start_time = EXCLUDED.start_time,
            end_time = EXCLUDED.end_time,
            checkpoint_at = EXCLUDED.checkpoint_at`,
		checkpoint.RunID,
		checkpoint.PipelineName,
		checkpoint.Status,
		checkpoint.Error,
		nullableTime(checkpoint.StartTime),
		nullableTime(checkpoint.EndTime),
		nullableTime(checkpoint.CheckpointAt),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", checkpoint.RunID, err)
	}
	return nil
}

// SaveJob upserts one job state.
func (s *Store) SaveJob(ctx context.Context, runID string, job *director.JobState) error {
	state, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (run_id, job_id, status, state, updated_at)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (run_id, job_id) DO UPDATE SET
            status = EXCLUDED.status,
            state = EXCLUDED.state,
            updated_at = EXCLUDED.updated_at`,
		runID,
		job.JobID,
		string(job.Status),
		state,
		time.Now().UTC(),
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
         FROM runs WHERE run_id = $1`, runID)

	checkpoint := &director.Checkpoint{RunID: runID}
	var startTime, endTime, checkpointAt sql.NullTime
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
	checkpoint.StartTime = startTime.Time
	checkpoint.EndTime = endTime.Time
	checkpoint.CheckpointAt = checkpointAt.Time

	rows, err := s.db.QueryContext(ctx, `SELECT state FROM jobs WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("load jobs for %s: %w", runID, err)
	}
	defer rows.Close()

	checkpoint.JobStates = make(map[string]*director.JobState)
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scan job state: %w", err)
		}
		var job director.JobState
		if err := json.Unmarshal(state, &job); err != nil {
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

// DeleteRun removes a run; job records cascade.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
