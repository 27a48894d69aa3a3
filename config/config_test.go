package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	director "github.com/charles-forsyth/director-agent"
	"github.com/charles-forsyth/director-agent/retry"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.normalize())
	require.NoError(t, cfg.Validate())

	require.Equal(t, 3, cfg.Execution.Concurrency)
	require.Equal(t, "file", cfg.Store.Backend)
	require.Equal(t, "console", cfg.Logging.Format)

	policy := cfg.RetryPolicy()
	require.Equal(t, 4, policy.MaxAttempts)
	require.Equal(t, time.Second, policy.BaseDelay)
	require.Equal(t, retry.JitterFull, policy.Jitter)

	breaker := cfg.BreakerOptions()
	require.Equal(t, 5, breaker.FailureThreshold)
	require.Equal(t, 30*time.Second, breaker.Cooldown)

	gatewayOpts := cfg.GatewayOptions()
	require.Len(t, gatewayOpts.Commands, 6)
	require.Equal(t, "generate-veo", gatewayOpts.Commands[director.CapabilityVideo].Path)
	require.Equal(t, 30*time.Minute, gatewayOpts.Commands[director.CapabilityVideo].Timeout)
}

func TestLoad(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, _, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		require.NoError(t, err)
		require.False(t, exists)
		require.Equal(t, 3, cfg.Execution.Concurrency)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[execution]
concurrency = 8

[store]
backend = "sqlite"

[tools.video]
command = "my-veo"
timeout_seconds = 60
`), 0o644))

		cfg, resolved, exists, err := Load(path)
		require.NoError(t, err)
		require.True(t, exists)
		require.Equal(t, path, resolved)
		require.Equal(t, 8, cfg.Execution.Concurrency)
		require.Equal(t, "sqlite", cfg.Store.Backend)
		require.NotEmpty(t, cfg.Store.SQLitePath, "sqlite path derives from data dir")
		require.Equal(t, "my-veo", cfg.Tools["video"].Command)
		// sections not mentioned keep their defaults
		require.Equal(t, "gen-tts", cfg.Tools["tts"].Command)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		for name, body := range map[string]string{
			"zero concurrency":   "[execution]\nconcurrency = 0",
			"unknown backend":    "[store]\nbackend = \"etcd\"",
			"unknown capability": "[tools.hologram]\ncommand = \"x\"",
			"bad jitter":         "[retry]\njitter = \"SOME\"",
			"bad log level":      "[logging]\nlevel = \"chatty\"",
		} {
			t.Run(name, func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "config.toml")
				require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
				_, _, _, err := Load(path)
				require.Error(t, err)
			})
		}
	})
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, WriteSample(path))

	// the sample must itself parse and validate
	cfg, _, exists, err := Load(path)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, Default().Execution.Concurrency, cfg.Execution.Concurrency)

	require.Error(t, WriteSample(path), "refuses to overwrite")
}
