package director

import "time"

// Checkpoint is a durable snapshot of a pipeline run. The run-level fields
// and the per-job states are persisted separately by checkpointers: jobs are
// upserted one at a time as they finish, so sibling completions never
// overwrite each other's records.
type Checkpoint struct {
	RunID        string               `json:"run_id"`
	PipelineName string               `json:"pipeline_name"`
	Status       string               `json:"status"`
	JobStates    map[string]*JobState `json:"job_states,omitempty"`
	Error        string               `json:"error,omitempty"`
	StartTime    time.Time            `json:"start_time,omitzero"`
	EndTime      time.Time            `json:"end_time,omitzero"`
	CheckpointAt time.Time            `json:"checkpoint_at"`
}

// Header returns a copy of the checkpoint without per-job states, for
// run-level persistence.
func (c *Checkpoint) Header() *Checkpoint {
	header := *c
	header.JobStates = nil
	return &header
}
