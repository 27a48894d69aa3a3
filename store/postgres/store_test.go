package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	director "github.com/charles-forsyth/director-agent"
)

// openTestStore starts a throwaway postgres container. Skipped when no
// container runtime is available.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("director"),
		tcpostgres.WithUsername("director"),
		tcpostgres.WithPassword("director"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("container runtime unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestStore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	checkpoint := &director.Checkpoint{
		RunID:        "run_pg",
		PipelineName: "render",
		Status:       string(director.RunStatusRunning),
		StartTime:    now,
		CheckpointAt: now,
	}

	t.Run("run and job round trip", func(t *testing.T) {
		require.NoError(t, store.SaveRun(ctx, checkpoint))
		require.NoError(t, store.SaveJob(ctx, "run_pg", &director.JobState{
			JobID:      "job-a",
			Capability: director.CapabilityTTS,
			Status:     director.JobStatusSucceeded,
			Attempts:   1,
		}))

		loaded, err := store.LoadRun(ctx, "run_pg")
		require.NoError(t, err)
		require.Equal(t, "render", loaded.PipelineName)
		require.Equal(t, director.JobStatusSucceeded, loaded.JobStates["job-a"].Status)
	})

	t.Run("upserts replace previous records", func(t *testing.T) {
		checkpoint.Status = string(director.RunStatusCompleted)
		checkpoint.EndTime = now.Add(time.Minute)
		require.NoError(t, store.SaveRun(ctx, checkpoint))
		require.NoError(t, store.SaveJob(ctx, "run_pg", &director.JobState{
			JobID:    "job-a",
			Status:   director.JobStatusFailed,
			Attempts: 3,
		}))

		loaded, err := store.LoadRun(ctx, "run_pg")
		require.NoError(t, err)
		require.Equal(t, string(director.RunStatusCompleted), loaded.Status)
		require.Equal(t, 3, loaded.JobStates["job-a"].Attempts)
	})

	t.Run("list includes job counts", func(t *testing.T) {
		summaries, err := store.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		require.Equal(t, 1, summaries[0].JobsFailed)
	})

	t.Run("unknown run returns ErrRunNotFound", func(t *testing.T) {
		_, err := store.LoadRun(ctx, "run_absent")
		require.ErrorIs(t, err, director.ErrRunNotFound)
	})

	t.Run("delete cascades to jobs", func(t *testing.T) {
		require.NoError(t, store.DeleteRun(ctx, "run_pg"))
		_, err := store.LoadRun(ctx, "run_pg")
		require.ErrorIs(t, err, director.ErrRunNotFound)
	})
}
