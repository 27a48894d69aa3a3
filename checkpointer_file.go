package director

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileCheckpointer persists checkpoints to disk. Each run gets a directory
// holding a run-level record plus one file per job; job records are written
// with a rename so an upsert is atomic and concurrent job completions never
// clobber each other.
type FileCheckpointer struct {
	dataDir string
}

const (
	runRecordFile = "run.json"
	jobRecordsDir = "jobs"
)

// NewFileCheckpointer creates a file-based checkpointer rooted at dataDir.
func NewFileCheckpointer(dataDir string) (*FileCheckpointer, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".director-agent", "runs")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileCheckpointer{dataDir: dataDir}, nil
}

func (c *FileCheckpointer) runDir(runID string) string {
	return filepath.Join(c.dataDir, runID)
}

// SaveRun persists the run-level record.
func (c *FileCheckpointer) SaveRun(ctx context.Context, checkpoint *Checkpoint) error {
	dir := c.runDir(checkpoint.RunID)
	if err := os.MkdirAll(filepath.Join(dir, jobRecordsDir), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, runRecordFile), checkpoint.Header()); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	return nil
}

// SaveJob upserts the record for one job.
func (c *FileCheckpointer) SaveJob(ctx context.Context, runID string, job *JobState) error {
	dir := filepath.Join(c.runDir(runID), jobRecordsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create job record directory: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, job.JobID+".json"), job); err != nil {
		return fmt.Errorf("failed to write job record: %w", err)
	}
	return nil
}

// LoadRun loads the run record and all of its job records.
func (c *FileCheckpointer) LoadRun(ctx context.Context, runID string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(c.runDir(runID), runRecordFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to read run record: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}

	checkpoint.JobStates = map[string]*JobState{}
	jobsDir := filepath.Join(c.runDir(runID), jobRecordsDir)
	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &checkpoint, nil
		}
		return nil, fmt.Errorf("failed to read job records: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		jobData, err := os.ReadFile(filepath.Join(jobsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read job record %s: %w", entry.Name(), err)
		}
		var job JobState
		if err := json.Unmarshal(jobData, &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job record %s: %w", entry.Name(), err)
		}
		checkpoint.JobStates[job.JobID] = &job
	}
	return &checkpoint, nil
}

// ListRuns summarizes all persisted runs, newest first.
func (c *FileCheckpointer) ListRuns(ctx context.Context) ([]*RunSummary, error) {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*RunSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var summaries []*RunSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		checkpoint, err := c.LoadRun(ctx, entry.Name())
		if err != nil {
			// Skip runs we can't read.
			continue
		}
		summaries = append(summaries, NewRunSummary(checkpoint))
	}
	SortRunSummaries(summaries)
	return summaries, nil
}

// DeleteRun removes all checkpoint data for a run.
func (c *FileCheckpointer) DeleteRun(ctx context.Context, runID string) error {
	if err := os.RemoveAll(c.runDir(runID)); err != nil {
		return fmt.Errorf("failed to delete run directory: %w", err)
	}
	return nil
}
