package director

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileCheckpointer(t *testing.T) {
	ctx := context.Background()

	newCheckpoint := func(runID string) *Checkpoint {
		now := time.Now().UTC().Truncate(time.Millisecond)
		return &Checkpoint{
			RunID:        runID,
			PipelineName: "render",
			Status:       string(RunStatusRunning),
			StartTime:    now,
			CheckpointAt: now,
			JobStates:    map[string]*JobState{},
		}
	}

	t.Run("save and load round trip", func(t *testing.T) {
		checkpointer, err := NewFileCheckpointer(t.TempDir())
		require.NoError(t, err)

		require.NoError(t, checkpointer.SaveRun(ctx, newCheckpoint("run_1")))
		require.NoError(t, checkpointer.SaveJob(ctx, "run_1", &JobState{
			JobID:      "job-a",
			Capability: CapabilityTTS,
			Status:     JobStatusSucceeded,
			Attempts:   1,
			Artifact:   &Artifact{JobID: "job-a", Location: "/tmp/a.wav", ContentHash: "h"},
		}))

		loaded, err := checkpointer.LoadRun(ctx, "run_1")
		require.NoError(t, err)
		require.Equal(t, "render", loaded.PipelineName)
		require.Len(t, loaded.JobStates, 1)
		require.Equal(t, JobStatusSucceeded, loaded.JobStates["job-a"].Status)
		require.NotNil(t, loaded.JobStates["job-a"].Artifact)
	})

	t.Run("unknown run returns ErrRunNotFound", func(t *testing.T) {
		checkpointer, err := NewFileCheckpointer(t.TempDir())
		require.NoError(t, err)
		_, err = checkpointer.LoadRun(ctx, "run_missing")
		require.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("job upsert is atomic per record", func(t *testing.T) {
		checkpointer, err := NewFileCheckpointer(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, checkpointer.SaveRun(ctx, newCheckpoint("run_2")))

		job := &JobState{JobID: "job-a", Status: JobStatusRunning}
		require.NoError(t, checkpointer.SaveJob(ctx, "run_2", job))
		job.Status = JobStatusFailed
		job.Attempts = 3
		require.NoError(t, checkpointer.SaveJob(ctx, "run_2", job))

		loaded, err := checkpointer.LoadRun(ctx, "run_2")
		require.NoError(t, err)
		require.Len(t, loaded.JobStates, 1)
		require.Equal(t, JobStatusFailed, loaded.JobStates["job-a"].Status)
		require.Equal(t, 3, loaded.JobStates["job-a"].Attempts)
	})

	t.Run("run record stores only the header", func(t *testing.T) {
		checkpointer, err := NewFileCheckpointer(t.TempDir())
		require.NoError(t, err)

		checkpoint := newCheckpoint("run_3")
		checkpoint.JobStates["job-a"] = &JobState{JobID: "job-a", Status: JobStatusRunning}
		require.NoError(t, checkpointer.SaveRun(ctx, checkpoint))

		loaded, err := checkpointer.LoadRun(ctx, "run_3")
		require.NoError(t, err)
		require.Empty(t, loaded.JobStates, "job states come from SaveJob, not the run record")
	})

	t.Run("lists runs newest first", func(t *testing.T) {
		checkpointer, err := NewFileCheckpointer(t.TempDir())
		require.NoError(t, err)

		older := newCheckpoint("run_old")
		older.StartTime = older.StartTime.Add(-time.Hour)
		require.NoError(t, checkpointer.SaveRun(ctx, older))
		require.NoError(t, checkpointer.SaveRun(ctx, newCheckpoint("run_new")))

		summaries, err := checkpointer.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		require.Equal(t, "run_new", summaries[0].RunID)
		require.Equal(t, "run_old", summaries[1].RunID)
	})

	t.Run("delete removes the whole run", func(t *testing.T) {
		checkpointer, err := NewFileCheckpointer(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, checkpointer.SaveRun(ctx, newCheckpoint("run_4")))
		require.NoError(t, checkpointer.SaveJob(ctx, "run_4", &JobState{JobID: "job-a", Status: JobStatusPending}))

		require.NoError(t, checkpointer.DeleteRun(ctx, "run_4"))
		_, err = checkpointer.LoadRun(ctx, "run_4")
		require.ErrorIs(t, err, ErrRunNotFound)
	})
}
