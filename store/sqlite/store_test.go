package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	director "github.com/charles-forsyth/director-agent"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func testCheckpoint(runID string) *director.Checkpoint {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &director.Checkpoint{
		RunID:        runID,
		PipelineName: "render",
		Status:       string(director.RunStatusRunning),
		StartTime:    now,
		CheckpointAt: now,
		JobStates:    map[string]*director.JobState{},
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips a run with job states", func(t *testing.T) {
		store := openTestStore(t)

		checkpoint := testCheckpoint("run_1")
		require.NoError(t, store.SaveRun(ctx, checkpoint))
		require.NoError(t, store.SaveJob(ctx, "run_1", &director.JobState{
			JobID:      "job-a",
			Name:       "research",
			Capability: director.CapabilityResearch,
			Status:     director.JobStatusSucceeded,
			Attempts:   2,
			Artifact: &director.Artifact{
				JobID:       "job-a",
				Location:    "/tmp/research.json",
				ContentHash: "abc123",
			},
		}))

		loaded, err := store.LoadRun(ctx, "run_1")
		require.NoError(t, err)
		require.Equal(t, "render", loaded.PipelineName)
		require.Len(t, loaded.JobStates, 1)
		job := loaded.JobStates["job-a"]
		require.Equal(t, director.JobStatusSucceeded, job.Status)
		require.Equal(t, 2, job.Attempts)
		require.NotNil(t, job.Artifact)
		require.Equal(t, "abc123", job.Artifact.ContentHash)
	})

	t.Run("unknown run returns ErrRunNotFound", func(t *testing.T) {
		store := openTestStore(t)
		_, err := store.LoadRun(ctx, "run_missing")
		require.ErrorIs(t, err, director.ErrRunNotFound)
	})

	t.Run("job upsert replaces the previous record", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.SaveRun(ctx, testCheckpoint("run_2")))

		job := &director.JobState{JobID: "job-a", Status: director.JobStatusRunning}
		require.NoError(t, store.SaveJob(ctx, "run_2", job))
		job.Status = director.JobStatusFailed
		job.Attempts = 4
		job.ErrorMessage = "tool exited with code 5"
		require.NoError(t, store.SaveJob(ctx, "run_2", job))

		loaded, err := store.LoadRun(ctx, "run_2")
		require.NoError(t, err)
		require.Len(t, loaded.JobStates, 1)
		require.Equal(t, director.JobStatusFailed, loaded.JobStates["job-a"].Status)
		require.Equal(t, 4, loaded.JobStates["job-a"].Attempts)
	})

	t.Run("run upsert updates the header", func(t *testing.T) {
		store := openTestStore(t)
		checkpoint := testCheckpoint("run_3")
		require.NoError(t, store.SaveRun(ctx, checkpoint))

		checkpoint.Status = string(director.RunStatusCompleted)
		checkpoint.EndTime = checkpoint.StartTime.Add(time.Minute)
		require.NoError(t, store.SaveRun(ctx, checkpoint))

		loaded, err := store.LoadRun(ctx, "run_3")
		require.NoError(t, err)
		require.Equal(t, string(director.RunStatusCompleted), loaded.Status)
		require.False(t, loaded.EndTime.IsZero())
	})

	t.Run("lists runs newest first", func(t *testing.T) {
		store := openTestStore(t)

		older := testCheckpoint("run_old")
		older.StartTime = older.StartTime.Add(-time.Hour)
		require.NoError(t, store.SaveRun(ctx, older))
		require.NoError(t, store.SaveJob(ctx, "run_old", &director.JobState{JobID: "j", Status: director.JobStatusSucceeded}))

		require.NoError(t, store.SaveRun(ctx, testCheckpoint("run_new")))

		summaries, err := store.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		require.Equal(t, "run_new", summaries[0].RunID)
		require.Equal(t, "run_old", summaries[1].RunID)
		require.Equal(t, 1, summaries[1].JobsSucceeded)
	})

	t.Run("delete removes run and jobs", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.SaveRun(ctx, testCheckpoint("run_4")))
		require.NoError(t, store.SaveJob(ctx, "run_4", &director.JobState{JobID: "j", Status: director.JobStatusPending}))

		require.NoError(t, store.DeleteRun(ctx, "run_4"))
		_, err := store.LoadRun(ctx, "run_4")
		require.ErrorIs(t, err, director.ErrRunNotFound)
	})

	t.Run("reopening keeps data", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "runs.db")
		store, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, store.SaveRun(ctx, testCheckpoint("run_5")))
		require.NoError(t, store.Close())

		reopened, err := Open(path)
		require.NoError(t, err)
		defer reopened.Close()
		loaded, err := reopened.LoadRun(ctx, "run_5")
		require.NoError(t, err)
		require.Equal(t, "render", loaded.PipelineName)
	})
}
