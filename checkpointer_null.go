package director

import "context"

// NullCheckpointer is a no-op implementation.
type NullCheckpointer struct{}

func NewNullCheckpointer() *NullCheckpointer {
	return &NullCheckpointer{}
}

func (c *NullCheckpointer) SaveRun(ctx context.Context, checkpoint *Checkpoint) error {
	return nil
}

func (c *NullCheckpointer) SaveJob(ctx context.Context, runID string, job *JobState) error {
	return nil
}

func (c *NullCheckpointer) LoadRun(ctx context.Context, runID string) (*Checkpoint, error) {
	return nil, ErrRunNotFound
}

func (c *NullCheckpointer) ListRuns(ctx context.Context) ([]*RunSummary, error) {
	return nil, nil
}

func (c *NullCheckpointer) DeleteRun(ctx context.Context, runID string) error {
	return nil
}
