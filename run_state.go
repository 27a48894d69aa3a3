package director

import (
	"errors"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// NewRunID returns a new typed id for run identification.
func NewRunID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// JobStatus represents the state of one job within a run. Transitions move
// monotonically forward, except failed jobs returning to ready on retry
// during resume.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusReady     JobStatus = "ready"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
)

// Terminal reports whether a job in this status will not run again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusSkipped
}

// SkipReason explains why a job was skipped.
type SkipReason string

const (
	// SkipReasonCached means a valid artifact already existed, so the
	// external tool was never invoked.
	SkipReasonCached SkipReason = "cached"

	// SkipReasonBlocked means a transitive dependency failed terminally.
	SkipReasonBlocked SkipReason = "blocked"
)

// RunStatus represents the overall state of a pipeline run.
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted means every job succeeded or was a cache hit.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusPartiallyFailed means at least one job failed terminally;
	// independent branches may still have completed.
	RunStatusPartiallyFailed RunStatus = "partially_failed"

	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusPartiallyFailed || s == RunStatusCancelled
}

// JobState tracks one job's progress through a run. This struct is designed
// to be fully JSON serializable for checkpointing.
type JobState struct {
	JobID        string     `json:"job_id"`
	Name         string     `json:"name,omitempty"`
	Capability   Capability `json:"capability"`
	Status       JobStatus  `json:"status"`
	SkipReason   SkipReason `json:"skip_reason,omitempty"`
	Attempts     int        `json:"attempts,omitempty"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartTime    time.Time  `json:"start_time,omitzero"`
	EndTime      time.Time  `json:"end_time,omitzero"`
	Artifact     *Artifact  `json:"artifact,omitempty"`
}

// Copy returns a copy of the job state.
func (j *JobState) Copy() *JobState {
	copied := *j
	if j.Artifact != nil {
		artifact := *j.Artifact
		copied.Artifact = &artifact
	}
	return &copied
}

// RunState consolidates all per-run execution state into one structure.
// All data here is serializable for checkpointing.
type RunState struct {
	runID        string
	pipelineName string
	status       RunStatus
	startTime    time.Time
	endTime      time.Time
	err          string
	jobStates    map[string]*JobState
	mutex        sync.RWMutex
}

// newRunState creates run state with every job pending.
func newRunState(runID string, pipeline *Pipeline) *RunState {
	jobStates := make(map[string]*JobState, len(pipeline.Jobs()))
	for _, job := range pipeline.Jobs() {
		jobStates[job.ID] = &JobState{
			JobID:      job.ID,
			Name:       job.Name,
			Capability: job.Capability,
			Status:     JobStatusPending,
		}
	}
	return &RunState{
		runID:        runID,
		pipelineName: pipeline.Name(),
		status:       RunStatusPending,
		jobStates:    jobStates,
	}
}

// ID returns the run id.
func (s *RunState) ID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.runID
}

// PipelineName returns the name of the pipeline being run.
func (s *RunState) PipelineName() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.pipelineName
}

// GetStatus returns the current run status.
func (s *RunState) GetStatus() RunStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.status
}

// SetStatus updates the run status.
func (s *RunState) SetStatus(status RunStatus) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.status = status
}

// GetError returns the run-level error, if any.
func (s *RunState) GetError() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.err == "" {
		return nil
	}
	return errors.New(s.err)
}

// GetStartTime returns the run start time.
func (s *RunState) GetStartTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.startTime
}

// SetStarted records the run start.
func (s *RunState) SetStarted(startTime time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.status = RunStatusRunning
	if s.startTime.IsZero() {
		s.startTime = startTime
	}
	s.endTime = time.Time{}
	s.err = ""
}

// SetFinished records the terminal status for the run.
func (s *RunState) SetFinished(status RunStatus, endTime time.Time, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.status = status
	s.endTime = endTime
	if err != nil {
		s.err = err.Error()
	} else {
		s.err = ""
	}
}

// GetJobState returns a copy of one job's state.
func (s *RunState) GetJobState(jobID string) (*JobState, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	state, ok := s.jobStates[jobID]
	if !ok {
		return nil, false
	}
	return state.Copy(), true
}

// GetJobStates returns a copy of all job states keyed by job id.
func (s *RunState) GetJobStates() map[string]*JobState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return copyJobStates(s.jobStates)
}

// UpdateJobState applies an update function to a job state and returns a
// copy of the result.
func (s *RunState) UpdateJobState(jobID string, updateFn func(*JobState)) *JobState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	state, ok := s.jobStates[jobID]
	if !ok {
		return nil
	}
	updateFn(state)
	return state.Copy()
}

// CountByStatus returns how many jobs are in each status.
func (s *RunState) CountByStatus() map[JobStatus]int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	counts := map[JobStatus]int{}
	for _, state := range s.jobStates {
		counts[state.Status]++
	}
	return counts
}

// FailedJobIDs returns the ids of terminally failed jobs.
func (s *RunState) FailedJobIDs() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var failed []string
	for id, state := range s.jobStates {
		if state.Status == JobStatusFailed {
			failed = append(failed, id)
		}
	}
	return failed
}

// ToCheckpoint converts the run state to a checkpoint snapshot.
func (s *RunState) ToCheckpoint() *Checkpoint {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return &Checkpoint{
		RunID:        s.runID,
		PipelineName: s.pipelineName,
		Status:       string(s.status),
		JobStates:    copyJobStates(s.jobStates),
		Error:        s.err,
		StartTime:    s.startTime,
		EndTime:      s.endTime,
		CheckpointAt: time.Now().UTC(),
	}
}

// FromCheckpoint overlays persisted job states onto the run state. Jobs
// present in the pipeline but absent from the checkpoint stay pending, so a
// patched DAG can resume and reuse the still-valid records.
func (s *RunState) FromCheckpoint(checkpoint *Checkpoint) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.runID = checkpoint.RunID
	s.status = RunStatus(checkpoint.Status)
	s.startTime = checkpoint.StartTime
	s.endTime = checkpoint.EndTime
	s.err = checkpoint.Error
	for id, persisted := range checkpoint.JobStates {
		if _, known := s.jobStates[id]; known {
			s.jobStates[id] = persisted.Copy()
		}
	}
}

func copyJobStates(m map[string]*JobState) map[string]*JobState {
	copied := make(map[string]*JobState, len(m))
	for k, v := range m {
		copied[k] = v.Copy()
	}
	return copied
}
