package director

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/charles-forsyth/director-agent/circuit"
	"github.com/charles-forsyth/director-agent/retry"
)

var (
	// ErrRunFailed is returned by Run when at least one job failed
	// terminally. Independent branches may still have completed.
	ErrRunFailed = errors.New("pipeline run partially failed")

	// ErrRunCancelled is returned by Run after a cancellation request has
	// been honored and all in-flight calls have returned.
	ErrRunCancelled = errors.New("pipeline run cancelled")
)

// ExecutorOptions configures a pipeline run.
type ExecutorOptions struct {
	Pipeline         *Pipeline
	Gateway          Gateway
	Artifacts        *ArtifactStore
	Checkpointer     Checkpointer
	InvocationLogger InvocationLogger
	Callbacks        RunCallbacks
	Logger           *slog.Logger

	// Concurrency bounds the number of simultaneously running jobs.
	Concurrency int

	// CallTimeout bounds each external call. Zero leaves the timeout to
	// the gateway.
	CallTimeout time.Duration

	RetryPolicy retry.Policy
	Circuits    *circuit.Registry
	RunID       string

	// Sleep overrides the retry wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Executor runs one pipeline as a directed acyclic graph of external
// generation jobs: it schedules ready jobs up to the concurrency bound,
// records a checkpoint after every job transition, and isolates failures to
// the failed job and its transitive dependents.
type Executor struct {
	pipeline         *Pipeline
	state            *RunState
	gateway          *RetryingGateway
	artifacts        *ArtifactStore
	checkpointer     Checkpointer
	invocationLogger InvocationLogger
	callbacks        RunCallbacks
	logger           *slog.Logger
	concurrency      int
	callTimeout      time.Duration

	mutex           sync.Mutex
	started         bool
	cancelRequested bool
	cancelInFlight  context.CancelFunc
}

// NewExecutor creates an executor for one pipeline run. The pipeline has
// already been validated at construction; this is the submit operation, and
// the returned executor's ID is the run id.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if opts.Artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewNullCheckpointer()
	}
	if opts.InvocationLogger == nil {
		opts.InvocationLogger = NewNullInvocationLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseRunCallbacks{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}

	gateway, err := NewRetryingGateway(RetryingGatewayOptions{
		Gateway:  opts.Gateway,
		Policy:   opts.RetryPolicy,
		Circuits: opts.Circuits,
		Logger:   opts.Logger,
		Sleep:    opts.Sleep,
	})
	if err != nil {
		return nil, err
	}

	return &Executor{
		pipeline:         opts.Pipeline,
		state:            newRunState(opts.RunID, opts.Pipeline),
		gateway:          gateway,
		artifacts:        opts.Artifacts,
		checkpointer:     opts.Checkpointer,
		invocationLogger: opts.InvocationLogger,
		callbacks:        opts.Callbacks,
		logger:           opts.Logger.With("run_id", opts.RunID),
		concurrency:      opts.Concurrency,
		callTimeout:      opts.CallTimeout,
	}, nil
}

// ID returns the run id.
func (e *Executor) ID() string {
	return e.state.ID()
}

// Status returns the current run status.
func (e *Executor) Status() RunStatus {
	return e.state.GetStatus()
}

// JobStates returns a copy of all job states keyed by job id.
func (e *Executor) JobStates() map[string]*JobState {
	return e.state.GetJobStates()
}

// GetArtifact returns the committed artifact for a job id.
func (e *Executor) GetArtifact(jobID string) (*Artifact, error) {
	return e.artifacts.Get(jobID)
}

// Cancel requests cancellation. New dispatches stop immediately; in-flight
// gateway calls receive a cancellation signal, and the run transitions to
// cancelled only once they have all returned.
func (e *Executor) Cancel() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.cancelRequested = true
	if e.cancelInFlight != nil {
		e.cancelInFlight()
	}
}

func (e *Executor) isCancelRequested() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.cancelRequested
}

func (e *Executor) start() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.started {
		return fmt.Errorf("executor already started")
	}
	e.started = true
	return nil
}

// Run executes the pipeline to completion.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.start(); err != nil {
		return err
	}
	return e.run(ctx)
}

// Resume continues a previous run from its last checkpoint. Jobs already
// succeeded or cache-skipped are not re-executed; failed, blocked and
// interrupted jobs become eligible again.
func (e *Executor) Resume(ctx context.Context, priorRunID string) error {
	if err := e.start(); err != nil {
		return err
	}

	checkpoint, err := e.checkpointer.LoadRun(ctx, priorRunID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	e.state.FromCheckpoint(checkpoint)

	if e.state.GetStatus() == RunStatusCompleted {
		e.logger.Info("run already completed from checkpoint")
		return nil
	}

	reset := 0
	for id, state := range e.state.GetJobStates() {
		resumable := state.Status == JobStatusReady ||
			state.Status == JobStatusRunning ||
			state.Status == JobStatusFailed ||
			(state.Status == JobStatusSkipped && state.SkipReason == SkipReasonBlocked)
		if resumable {
			e.state.UpdateJobState(id, func(job *JobState) {
				job.Status = JobStatusPending
				job.SkipReason = ""
				job.ErrorKind = ""
				job.ErrorMessage = ""
				job.StartTime = time.Time{}
				job.EndTime = time.Time{}
			})
			reset++
		}
	}
	e.logger.Info("resuming run from checkpoint",
		"prior_status", checkpoint.Status,
		"jobs", len(checkpoint.JobStates),
		"jobs_reset", reset)

	return e.run(ctx)
}

// jobResult carries one finished job back to the scheduler goroutine.
type jobResult struct {
	jobID     string
	artifact  *Artifact
	attempts  int
	cacheHit  bool
	err       error
	startTime time.Time
	endTime   time.Time
}

// run drives the scheduling loop. All state transitions happen on this
// goroutine; workers only execute the external call and report back.
func (e *Executor) run(ctx context.Context) error {
	runCtx, cancelInFlight := context.WithCancel(ctx)
	defer cancelInFlight()

	e.mutex.Lock()
	e.cancelInFlight = cancelInFlight
	e.mutex.Unlock()

	e.state.SetStarted(time.Now())
	if err := e.checkpointer.SaveRun(ctx, e.state.ToCheckpoint()); err != nil {
		return fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	e.callbacks.BeforeRun(ctx, &RunEvent{
		RunID:        e.state.ID(),
		PipelineName: e.state.PipelineName(),
		Status:       e.state.GetStatus(),
		StartTime:    e.state.GetStartTime(),
		JobCount:     len(e.pipeline.Jobs()),
	})

	results := make(chan jobResult)
	inFlight := 0

	e.promoteReady(ctx)
	for {
		if !e.isCancelRequested() && ctx.Err() == nil {
			inFlight += e.dispatchReady(ctx, runCtx, results, e.concurrency-inFlight)
		}
		if inFlight == 0 {
			break
		}
		result := <-results
		inFlight--
		e.handleResult(ctx, result)
		e.promoteReady(ctx)
	}

	return e.finish(ctx)
}

// promoteReady moves pending jobs whose dependencies are all satisfied to
// ready. Dependency satisfaction means succeeded or skipped as a cache hit.
func (e *Executor) promoteReady(ctx context.Context) {
	states := e.state.GetJobStates()
	for _, job := range e.pipeline.Jobs() {
		state := states[job.ID]
		if state == nil || state.Status != JobStatusPending {
			continue
		}
		satisfied := true
		for _, dep := range job.DependsOn {
			if !dependencySatisfied(states[dep]) {
				satisfied = false
				break
			}
		}
		if satisfied {
			states[job.ID] = e.state.UpdateJobState(job.ID, func(s *JobState) {
				s.Status = JobStatusReady
			})
		}
	}
}

func dependencySatisfied(state *JobState) bool {
	if state == nil {
		return false
	}
	if state.Status == JobStatusSucceeded {
		return true
	}
	return state.Status == JobStatusSkipped && state.SkipReason == SkipReasonCached
}

// dispatchReady starts up to capacity ready jobs, favoring submission order.
func (e *Executor) dispatchReady(ctx, runCtx context.Context, results chan<- jobResult, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	dispatched := 0
	states := e.state.GetJobStates()
	for _, job := range e.pipeline.Jobs() {
		if dispatched >= capacity {
			break
		}
		state := states[job.ID]
		if state == nil || state.Status != JobStatusReady {
			continue
		}

		startTime := time.Now()
		updated := e.state.UpdateJobState(job.ID, func(s *JobState) {
			s.Status = JobStatusRunning
			s.StartTime = startTime
		})
		if err := e.checkpointer.SaveJob(ctx, e.state.ID(), updated); err != nil {
			e.logger.Error("failed to checkpoint job start", "job_id", job.ID, "error", err)
		}
		e.callbacks.BeforeJob(ctx, &JobEvent{
			RunID:      e.state.ID(),
			JobID:      job.ID,
			JobName:    job.Name,
			Capability: job.Capability,
			Status:     JobStatusRunning,
			StartTime:  startTime,
		})

		dispatched++
		spec := job
		go func() {
			results <- e.executeJob(runCtx, spec, startTime)
		}()
	}
	return dispatched
}

// executeJob runs one job on a worker goroutine: probe the artifact store
// for an existing output first, then invoke the gateway through the retry
// and circuit decorator. Execution is at-least-once; the probe makes the
// repeat path a cache hit instead of a duplicate generation.
func (e *Executor) executeJob(ctx context.Context, job JobSpec, startTime time.Time) jobResult {
	result := jobResult{jobID: job.ID, startTime: startTime}

	artifact, err := e.artifacts.Probe(job.ID)
	if err == nil {
		result.artifact = artifact
		result.cacheHit = true
		result.endTime = time.Now()
		return result
	}
	var integrityErr *IntegrityError
	if errors.As(err, &integrityErr) {
		result.err = err
		result.endTime = time.Now()
		return result
	}

	outputDir, err := e.artifacts.EnsureJobDir(job.ID)
	if err != nil {
		result.err = err
		result.endTime = time.Now()
		return result
	}

	inputs := make(map[string]*Artifact, len(job.DependsOn))
	states := e.state.GetJobStates()
	for _, dep := range job.DependsOn {
		state := states[dep]
		if state == nil || state.Artifact == nil {
			result.err = &IntegrityError{JobID: job.ID, Reason: fmt.Sprintf("missing artifact for dependency %s", dep)}
			result.endTime = time.Now()
			return result
		}
		inputs[dep] = state.Artifact
	}

	meta, attempts, err := e.gateway.InvokeWithStats(ctx, &Invocation{
		RunID:      e.state.ID(),
		JobID:      job.ID,
		Capability: job.Capability,
		Parameters: job.Parameters,
		Inputs:     inputs,
		OutputDir:  outputDir,
		Timeout:    e.callTimeout,
	})
	result.attempts = attempts
	if err != nil {
		result.err = err
		result.endTime = time.Now()
		return result
	}

	// Commit the artifact record before reporting success so the
	// checkpoint write is strictly ordered after artifact production.
	artifact, err = e.artifacts.Commit(job.ID, meta.Location, meta.MediaType)
	if err != nil {
		result.err = err
		result.endTime = time.Now()
		return result
	}
	result.artifact = artifact
	result.endTime = time.Now()
	return result
}

// handleResult applies one finished job to the run state, persists the job
// checkpoint, and propagates blocked skips on terminal failure.
func (e *Executor) handleResult(ctx context.Context, result jobResult) {
	job, _ := e.pipeline.Job(result.jobID)

	// A cancelled in-flight call goes back to pending so a resume can
	// pick it up; it is not a tool failure.
	if result.err != nil && (errors.Is(result.err, context.Canceled) || ctx.Err() != nil && e.isCancelRequested()) {
		updated := e.state.UpdateJobState(result.jobID, func(s *JobState) {
			s.Status = JobStatusPending
			s.StartTime = time.Time{}
		})
		if err := e.checkpointer.SaveJob(ctx, e.state.ID(), updated); err != nil {
			e.logger.Error("failed to checkpoint cancelled job", "job_id", result.jobID, "error", err)
		}
		return
	}

	entry := &InvocationLogEntry{
		RunID:      e.state.ID(),
		JobID:      result.jobID,
		Capability: job.Capability,
		Parameters: job.Parameters,
		Attempts:   result.attempts,
		CacheHit:   result.cacheHit,
		StartTime:  result.startTime,
		Duration:   result.endTime.Sub(result.startTime).Seconds(),
	}

	if result.err != nil {
		toolErr := ClassifyError(job.Capability, result.err)
		entry.Error = result.err.Error()
		updated := e.state.UpdateJobState(result.jobID, func(s *JobState) {
			s.Status = JobStatusFailed
			s.Attempts = result.attempts
			s.ErrorKind = toolErr.Kind
			s.ErrorMessage = result.err.Error()
			s.EndTime = result.endTime
		})
		if err := e.checkpointer.SaveJob(ctx, e.state.ID(), updated); err != nil {
			e.logger.Error("failed to checkpoint job failure", "job_id", result.jobID, "error", err)
		}
		e.logger.Error("job failed",
			"job_id", result.jobID,
			"capability", job.Capability,
			"attempts", result.attempts,
			"error", result.err)
		e.callbacks.AfterJob(ctx, e.jobEvent(updated, result))
		e.skipBlockedDependents(ctx, result.jobID)
	} else {
		status := JobStatusSucceeded
		var skipReason SkipReason
		if result.cacheHit {
			status = JobStatusSkipped
			skipReason = SkipReasonCached
		}
		updated := e.state.UpdateJobState(result.jobID, func(s *JobState) {
			s.Status = status
			s.SkipReason = skipReason
			s.Attempts = result.attempts
			s.Artifact = result.artifact
			s.EndTime = result.endTime
		})
		if result.artifact != nil {
			entry.Location = result.artifact.Location
		}
		// The job checkpoint commits strictly before dependents can be
		// promoted by the scheduling loop.
		if err := e.checkpointer.SaveJob(ctx, e.state.ID(), updated); err != nil {
			e.logger.Error("failed to checkpoint job success", "job_id", result.jobID, "error", err)
		}
		e.logger.Info("job finished",
			"job_id", result.jobID,
			"capability", job.Capability,
			"cache_hit", result.cacheHit,
			"attempts", result.attempts)
		e.callbacks.AfterJob(ctx, e.jobEvent(updated, result))
	}

	if err := e.invocationLogger.LogInvocation(ctx, entry); err != nil {
		e.logger.Error("failed to log invocation", "job_id", result.jobID, "error", err)
	}
	if err := e.checkpointer.SaveRun(ctx, e.state.ToCheckpoint()); err != nil {
		e.logger.Error("failed to checkpoint run", "error", err)
	}
}

func (e *Executor) jobEvent(state *JobState, result jobResult) *JobEvent {
	event := &JobEvent{
		RunID:      e.state.ID(),
		JobID:      state.JobID,
		JobName:    state.Name,
		Capability: state.Capability,
		Status:     state.Status,
		SkipReason: state.SkipReason,
		Attempts:   state.Attempts,
		StartTime:  result.startTime,
		EndTime:    result.endTime,
		Duration:   result.endTime.Sub(result.startTime),
		Artifact:   state.Artifact,
		Error:      result.err,
	}
	return event
}

// skipBlockedDependents marks every transitive dependent of a failed job as
// skipped. They are never attempted, which lets independent branches of the
// graph run to completion instead of blocking the whole run.
func (e *Executor) skipBlockedDependents(ctx context.Context, failedJobID string) {
	for _, dependent := range e.pipeline.TransitiveDependents(failedJobID) {
		state, ok := e.state.GetJobState(dependent)
		if !ok || state.Status.Terminal() || state.Status == JobStatusRunning {
			continue
		}
		updated := e.state.UpdateJobState(dependent, func(s *JobState) {
			s.Status = JobStatusSkipped
			s.SkipReason = SkipReasonBlocked
			s.EndTime = time.Now()
		})
		if err := e.checkpointer.SaveJob(ctx, e.state.ID(), updated); err != nil {
			e.logger.Error("failed to checkpoint blocked job", "job_id", dependent, "error", err)
		}
		e.logger.Warn("job blocked by failed dependency",
			"job_id", dependent,
			"failed_dependency", failedJobID)
		e.callbacks.AfterJob(ctx, &JobEvent{
			RunID:      e.state.ID(),
			JobID:      updated.JobID,
			JobName:    updated.Name,
			Capability: updated.Capability,
			Status:     JobStatusSkipped,
			SkipReason: SkipReasonBlocked,
		})
	}
}

// finish computes the terminal status, persists the final checkpoint and
// fires the completion callback.
func (e *Executor) finish(ctx context.Context) error {
	counts := e.state.CountByStatus()
	nonTerminal := counts[JobStatusPending] + counts[JobStatusReady] + counts[JobStatusRunning]
	failed := e.state.FailedJobIDs()

	var finalStatus RunStatus
	var finalErr error
	switch {
	case nonTerminal > 0:
		finalStatus = RunStatusCancelled
		finalErr = ErrRunCancelled
	case len(failed) > 0:
		finalStatus = RunStatusPartiallyFailed
		finalErr = fmt.Errorf("%w: %v", ErrRunFailed, failed)
	default:
		finalStatus = RunStatusCompleted
	}

	endTime := time.Now()
	e.state.SetFinished(finalStatus, endTime, finalErr)

	if finalErr != nil {
		e.logger.Warn("run finished", "status", finalStatus, "error", finalErr)
	} else {
		e.logger.Info("run completed")
	}

	e.callbacks.AfterRun(ctx, &RunEvent{
		RunID:        e.state.ID(),
		PipelineName: e.state.PipelineName(),
		Status:       finalStatus,
		StartTime:    e.state.GetStartTime(),
		EndTime:      endTime,
		Duration:     endTime.Sub(e.state.GetStartTime()),
		JobCount:     len(e.pipeline.Jobs()),
		Error:        finalErr,
	})

	if err := e.checkpointer.SaveRun(ctx, e.state.ToCheckpoint()); err != nil {
		e.logger.Error("failed to save final checkpoint", "error", err)
	}
	return finalErr
}
