package director

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charles-forsyth/director-agent/retry"
)

// fakeTool is a scriptable Gateway. Jobs identify themselves through their
// "name" parameter so assertions can reference pipeline jobs directly.
type fakeTool struct {
	mutex      sync.Mutex
	calls      map[string]int
	failWith   map[string]error
	failUntil  map[string]int
	workTime   time.Duration
	started    []string
	running    int
	maxRunning int
}

func newFakeTool() *fakeTool {
	return &fakeTool{
		calls:     map[string]int{},
		failWith:  map[string]error{},
		failUntil: map[string]int{},
	}
}

func (f *fakeTool) Invoke(ctx context.Context, inv *Invocation) (*ArtifactMeta, error) {
	name := inv.Parameters["name"]

	f.mutex.Lock()
	f.calls[name]++
	call := f.calls[name]
	f.started = append(f.started, name)
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.mutex.Unlock()

	defer func() {
		f.mutex.Lock()
		f.running--
		f.mutex.Unlock()
	}()

	if f.workTime > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.workTime):
		}
	}

	if until, ok := f.failUntil[name]; ok && call <= until {
		return nil, NewTransientError(inv.Capability, "temporary outage")
	}
	if err, ok := f.failWith[name]; ok {
		return nil, err
	}

	path := filepath.Join(inv.OutputDir, "out.txt")
	if err := os.WriteFile(path, []byte(name+" output"), 0o644); err != nil {
		return nil, err
	}
	return &ArtifactMeta{Location: path, MediaType: "text/plain"}, nil
}

func (f *fakeTool) callCount(name string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls[name]
}

func (f *fakeTool) totalCalls() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// diamondPipeline is root -> (left, right) -> final.
func diamondPipeline(t *testing.T) *Pipeline {
	t.Helper()
	pipeline, err := New(Options{
		Name: "render",
		Jobs: []JobSpec{
			{Name: "root", Capability: CapabilityResearch, Parameters: map[string]string{"name": "root"}},
			{Name: "left", Capability: CapabilityImage, Parameters: map[string]string{"name": "left"}, DependsOn: []string{"root"}},
			{Name: "right", Capability: CapabilityMusic, Parameters: map[string]string{"name": "right"}, DependsOn: []string{"root"}},
			{Name: "final", Capability: CapabilityMux, Parameters: map[string]string{"name": "final"}, DependsOn: []string{"left", "right"}},
		},
	})
	require.NoError(t, err)
	return pipeline
}

func jobIDByName(t *testing.T, pipeline *Pipeline, name string) string {
	t.Helper()
	for _, job := range pipeline.Jobs() {
		if job.Name == name {
			return job.ID
		}
	}
	t.Fatalf("no job named %q", name)
	return ""
}

type executorFixture struct {
	dataDir      string
	checkpointer *FileCheckpointer
	artifacts    *ArtifactStore
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	dataDir := t.TempDir()
	checkpointer, err := NewFileCheckpointer(filepath.Join(dataDir, "runs"))
	require.NoError(t, err)
	artifacts, err := NewArtifactStore(filepath.Join(dataDir, "artifacts"))
	require.NoError(t, err)
	return &executorFixture{dataDir: dataDir, checkpointer: checkpointer, artifacts: artifacts}
}

func (f *executorFixture) newExecutor(t *testing.T, pipeline *Pipeline, gateway Gateway, opts ExecutorOptions) *Executor {
	t.Helper()
	opts.Pipeline = pipeline
	opts.Gateway = gateway
	opts.Artifacts = f.artifacts
	opts.Checkpointer = f.checkpointer
	if opts.RetryPolicy.MaxAttempts == 0 {
		opts.RetryPolicy = retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffRate: 2}
	}
	if opts.Sleep == nil {
		opts.Sleep = noSleep
	}
	executor, err := NewExecutor(opts)
	require.NoError(t, err)
	return executor
}

func TestExecutorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("runs every job to success", func(t *testing.T) {
		fixture := newExecutorFixture(t)
		pipeline := diamondPipeline(t)
		tool := newFakeTool()

		executor := fixture.newExecutor(t, pipeline, tool, ExecutorOptions{})
		require.NoError(t, executor.Run(ctx))
		require.Equal(t, RunStatusCompleted, executor.Status())

		for _, job := range pipeline.Jobs() {
			state := executor.JobStates()[job.ID]
			require.Equal(t, JobStatusSucceeded, state.Status, "job %s", job.Name)
			require.NotNil(t, state.Artifact)
			require.Equal(t, 1, state.Attempts)
		}
		require.Equal(t, 4, tool.totalCalls())

		checkpoint, err := fixture.checkpointer.LoadRun(ctx, executor.ID())
		require.NoError(t, err)
		require.Equal(t, string(RunStatusCompleted), checkpoint.Status)
		require.Len(t, checkpoint.JobStates, 4)
	})

	t.Run("resubmitting an identical pipeline makes zero tool calls", func(t *testing.T) {
		fixture := newExecutorFixture(t)
		tool := newFakeTool()

		first := fixture.newExecutor(t, diamondPipeline(t), tool, ExecutorOptions{})
		require.NoError(t, first.Run(ctx))
		require.Equal(t, 4, tool.totalCalls())

		second := fixture.newExecutor(t, diamondPipeline(t), tool, ExecutorOptions{})
		require.NoError(t, second.Run(ctx))
		require.Equal(t, RunStatusCompleted, second.Status())
		require.Equal(t, 4, tool.totalCalls(), "identical content ids resolve to committed artifacts")

		for _, state := range second.JobStates() {
			require.Equal(t, JobStatusSkipped, state.Status)
			require.Equal(t, SkipReasonCached, state.SkipReason)
			require.NotNil(t, state.Artifact)
		}
	})

	t.Run("a failed job blocks its dependents and nothing else", func(t *testing.T) {
		fixture := newExecutorFixture(t)
		pipeline := diamondPipeline(t)
		tool := newFakeTool()
		tool.failWith["left"] = NewPermanentError(CapabilityImage, "invalid prompt")

		executor := fixture.newExecutor(t, pipeline, tool, ExecutorOptions{})
		err := executor.Run(ctx)
		require.ErrorIs(t, err, ErrRunFailed)
		require.Equal(t, RunStatusPartiallyFailed, executor.Status())

		states := executor.JobStates()
		left := states[jobIDByName(t, pipeline, "left")]
		require.Equal(t, JobStatusFailed, left.Status)
		require.Equal(t, ErrorKindPermanent, left.ErrorKind)
		require.Equal(t, 1, left.Attempts, "permanent failures are not retried")

		final := states[jobIDByName(t, pipeline, "final")]
		require.Equal(t, JobStatusSkipped, final.Status)
		require.Equal(t, SkipReasonBlocked, final.SkipReason)
		require.Zero(t, tool.callCount("final"), "blocked jobs are never dispatched")

		require.Equal(t, JobStatusSucceeded, states[jobIDByName(t, pipeline, "right")].Status,
			"the independent branch still completes")
	})

	t.Run("transient failures are retried to success", func(t *testing.T) {
		fixture := newExecutorFixture(t)
		pipeline := diamondPipeline(t)
		tool := newFakeTool()
		tool.failUntil["root"] = 2

		executor := fixture.newExecutor(t, pipeline, tool, ExecutorOptions{})
		require.NoError(t, executor.Run(ctx))

		root := executor.JobStates()[jobIDByName(t, pipeline, "root")]
		require.Equal(t, JobStatusSucceeded, root.Status)
		require.Equal(t, 3, root.Attempts)
	})

	t.Run("resume after a lost checkpoint write reuses the artifact", func(t *testing.T) {
		fixture := newExecutorFixture(t)
		pipeline := diamondPipeline(t)
		tool := newFakeTool()

		first := fixture.newExecutor(t, pipeline, tool, ExecutorOptions{})
		require.NoError(t, first.Run(ctx))
		require.Equal(t, 4, tool.totalCalls())

		// Simulate a crash after the artifact was committed but before the
		// job checkpoint landed.
		leftID := jobIDByName(t, pipeline, "left")
		require.NoError(t, os.Remove(filepath.Join(
			fixture.dataDir, "runs", first.ID(), "jobs", leftID+".json")))

		second := fixture.newExecutor(t, pipeline, tool, ExecutorOptions{})
		require.NoError(t, second.Resume(ctx, first.ID()))
		require.Equal(t, RunStatusCompleted, second.Status())
		require.Equal(t, 4, tool.totalCalls(), "the committed artifact makes the retry a cache hit")

		left := second.JobStates()[leftID]
		require.Equal(t, JobStatusSkipped, left.Status)
		require.Equal(t, SkipReasonCached, left.SkipReason)
	})

	t.Run("resume of an unknown run fails", func(t *testing.T) {
		fixture := newExecutorFixture(t)
		executor := fixture.newExecutor(t, diamondPipeline(t), newFakeTool(), ExecutorOptions{})
		require.ErrorIs(t, executor.Resume(ctx, "run_missing"), ErrRunNotFound)
	})

	t.Run("resume retries failed jobs and unblocks their dependents", func(t *testing.T) {
		fixture := newExecutorFixture(t)
		pipeline := diamondPipeline(t)
		tool := newFakeTool()
		tool.failWith["left"] = NewPermanentError(CapabilityImage, "invalid prompt")

		first := fixture.newExecutor(t, pipeline, tool, ExecutorOptions{})
		require.ErrorIs(t, first.Run(ctx), ErrRunFailed)

		delete(tool.failWith, "left")
		second := fixture.newExecutor(t, pipeline, tool, ExecutorOptions{})
		require.NoError(t, second.Resume(ctx, first.ID()))
		require.Equal(t, RunStatusCompleted, second.Status())

		states := second.JobStates()
		require.Equal(t, JobStatusSucceeded, states[jobIDByName(t, pipeline, "left")].Status)
		require.Equal(t, JobStatusSucceeded, states[jobIDByName(t, pipeline, "final")].Status)
		require.Equal(t, JobStatusSucceeded, states[jobIDByName(t, pipeline, "root")].Status,
			"already succeeded jobs are not re-executed")
		require.Equal(t, 1, tool.callCount("root"))
	})

	t.Run("concurrency is bounded and dispatch follows submission order", func(t *testing.T) {
		pipeline, err := New(Options{
			Name: "fan-in",
			Jobs: []JobSpec{
				{Name: "a", Capability: CapabilityImage, Parameters: map[string]string{"name": "a"}},
				{Name: "b", Capability: CapabilityImage, Parameters: map[string]string{"name": "b"}},
				{Name: "c", Capability: CapabilityImage, Parameters: map[string]string{"name": "c"}},
				{Name: "d", Capability: CapabilityMux, Parameters: map[string]string{"name": "d"}, DependsOn: []string{"a", "b", "c"}},
			},
		})
		require.NoError(t, err)

		fixture := newExecutorFixture(t)
		tool := newFakeTool()
		tool.workTime = 50 * time.Millisecond

		executor := fixture.newExecutor(t, pipeline, tool, ExecutorOptions{Concurrency: 2})
		require.NoError(t, executor.Run(ctx))
		require.Equal(t, RunStatusCompleted, executor.Status())

		require.LessOrEqual(t, tool.maxRunning, 2)
		require.Len(t, tool.started, 4)
		require.ElementsMatch(t, []string{"a", "b"}, tool.started[:2],
			"the two earliest submitted ready jobs start first")
		require.Equal(t, "d", tool.started[3], "the join waits for all dependencies")
	})

	t.Run("cancellation stops dispatch and leaves a resumable run", func(t *testing.T) {
		fixture := newExecutorFixture(t)
		pipeline := diamondPipeline(t)
		tool := newFakeTool()
		tool.workTime = 10 * time.Second

		executor := fixture.newExecutor(t, pipeline, tool, ExecutorOptions{})
		done := make(chan error, 1)
		go func() { done <- executor.Run(ctx) }()

		require.Eventually(t, func() bool {
			return tool.callCount("root") == 1
		}, 5*time.Second, 10*time.Millisecond)
		executor.Cancel()

		select {
		case err := <-done:
			require.ErrorIs(t, err, ErrRunCancelled)
		case <-time.After(5 * time.Second):
			t.Fatal("run did not finish after cancellation")
		}
		require.Equal(t, RunStatusCancelled, executor.Status())

		// The interrupted run resumes cleanly once the tool cooperates.
		tool.workTime = 0
		second := fixture.newExecutor(t, pipeline, tool, ExecutorOptions{})
		require.NoError(t, second.Resume(ctx, executor.ID()))
		require.Equal(t, RunStatusCompleted, second.Status())
	})

	t.Run("job checkpoints commit only after the artifact", func(t *testing.T) {
		fixture := newExecutorFixture(t)
		pipeline := diamondPipeline(t)

		checkpointer := &orderAssertingCheckpointer{
			FileCheckpointer: fixture.checkpointer,
			artifacts:        fixture.artifacts,
			t:                t,
		}
		executor, err := NewExecutor(ExecutorOptions{
			Pipeline:     pipeline,
			Gateway:      newFakeTool(),
			Artifacts:    fixture.artifacts,
			Checkpointer: checkpointer,
			Sleep:        noSleep,
		})
		require.NoError(t, err)
		require.NoError(t, executor.Run(ctx))
		require.GreaterOrEqual(t, checkpointer.successSaves, 4)
	})

	t.Run("invocations are logged per run", func(t *testing.T) {
		fixture := newExecutorFixture(t)
		pipeline := diamondPipeline(t)
		logger := NewFileInvocationLogger(filepath.Join(fixture.dataDir, "logs"))

		executor := fixture.newExecutor(t, pipeline, newFakeTool(), ExecutorOptions{
			InvocationLogger: logger,
		})
		require.NoError(t, executor.Run(ctx))

		history, err := logger.GetInvocationHistory(ctx, executor.ID())
		require.NoError(t, err)
		require.Len(t, history, 4)
		for _, entry := range history {
			require.Equal(t, executor.ID(), entry.RunID)
			require.Equal(t, 1, entry.Attempts)
			require.NotEmpty(t, entry.Location)
		}
	})
}

// orderAssertingCheckpointer fails the test if a succeeded-job checkpoint
// arrives before the artifact record is readable.
type orderAssertingCheckpointer struct {
	*FileCheckpointer
	artifacts    *ArtifactStore
	t            *testing.T
	successSaves int
}

func (c *orderAssertingCheckpointer) SaveJob(ctx context.Context, runID string, job *JobState) error {
	if job.Status == JobStatusSucceeded {
		c.successSaves++
		if _, err := c.artifacts.Get(job.JobID); err != nil {
			c.t.Errorf("job %s checkpointed as succeeded before its artifact was committed: %v", job.JobID, err)
		}
	}
	return c.FileCheckpointer.SaveJob(ctx, runID, job)
}
