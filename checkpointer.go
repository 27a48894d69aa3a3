package director

import "context"

// Checkpointer persists run state for crash recovery and resume.
//
// Implementations must make SaveJob an atomic upsert of a single job record:
// concurrent saves for different job ids within the same run must not
// corrupt each other. LoadRun returns ErrRunNotFound for unknown run ids.
type Checkpointer interface {
	// SaveRun persists the run-level record (status, timing, error). Job
	// states carried on the checkpoint are ignored; use SaveJob.
	SaveRun(ctx context.Context, checkpoint *Checkpoint) error

	// SaveJob upserts the record for one job within a run.
	SaveJob(ctx context.Context, runID string, job *JobState) error

	// LoadRun loads the run-level record and every job record for a run.
	LoadRun(ctx context.Context, runID string) (*Checkpoint, error)

	// ListRuns summarizes all persisted runs, newest first.
	ListRuns(ctx context.Context) ([]*RunSummary, error)

	// DeleteRun removes all checkpoint data for a run.
	DeleteRun(ctx context.Context, runID string) error
}
