package director

import (
	"sort"
	"time"
)

// RunSummary provides a condensed view of one pipeline run.
type RunSummary struct {
	RunID         string        `json:"run_id"`
	PipelineName  string        `json:"pipeline_name"`
	Status        string        `json:"status"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time,omitempty"`
	Duration      time.Duration `json:"duration"`
	JobsTotal     int           `json:"jobs_total"`
	JobsSucceeded int           `json:"jobs_succeeded"`
	JobsFailed    int           `json:"jobs_failed"`
	JobsSkipped   int           `json:"jobs_skipped"`
	Error         string        `json:"error,omitempty"`
}

// NewRunSummary derives a summary from a loaded checkpoint.
func NewRunSummary(checkpoint *Checkpoint) *RunSummary {
	summary := &RunSummary{
		RunID:        checkpoint.RunID,
		PipelineName: checkpoint.PipelineName,
		Status:       checkpoint.Status,
		StartTime:    checkpoint.StartTime,
		EndTime:      checkpoint.EndTime,
		Error:        checkpoint.Error,
	}
	if !checkpoint.EndTime.IsZero() {
		summary.Duration = checkpoint.EndTime.Sub(checkpoint.StartTime)
	} else if !checkpoint.CheckpointAt.IsZero() && !checkpoint.StartTime.IsZero() {
		summary.Duration = checkpoint.CheckpointAt.Sub(checkpoint.StartTime)
	}
	for _, job := range checkpoint.JobStates {
		summary.JobsTotal++
		switch job.Status {
		case JobStatusSucceeded:
			summary.JobsSucceeded++
		case JobStatusFailed:
			summary.JobsFailed++
		case JobStatusSkipped:
			summary.JobsSkipped++
		}
	}
	return summary
}

// SortRunSummaries orders summaries newest first.
func SortRunSummaries(summaries []*RunSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
}
