// Package config loads and validates the orchestrator's TOML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	director "github.com/charles-forsyth/director-agent"
	"github.com/charles-forsyth/director-agent/circuit"
	"github.com/charles-forsyth/director-agent/retry"
	"github.com/charles-forsyth/director-agent/tools"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// DataDir holds artifacts, run checkpoints and invocation logs.
	DataDir string `toml:"data_dir"`

	// WatchDir is scanned by `director watch` for new manifest files.
	WatchDir string `toml:"watch_dir"`
}

// Execution contains scheduling limits.
type Execution struct {
	// Concurrency bounds simultaneously running jobs in one run.
	Concurrency int `toml:"concurrency"`

	// CallTimeoutSeconds bounds each external tool call.
	CallTimeoutSeconds int `toml:"call_timeout_seconds"`

	// GracePeriodSeconds is the window between SIGTERM and SIGKILL when a
	// tool call is cancelled.
	GracePeriodSeconds int `toml:"grace_period_seconds"`

	// MaxToolProcesses bounds tool processes across concurrent runs.
	MaxToolProcesses int `toml:"max_tool_processes"`
}

// Retry contains backoff tuning for transient tool failures.
type Retry struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelayMS int     `toml:"base_delay_ms"`
	MaxDelayMS  int     `toml:"max_delay_ms"`
	BackoffRate float64 `toml:"backoff_rate"`
	Jitter      string  `toml:"jitter"`
}

// Circuit contains per-capability circuit breaker tuning.
type Circuit struct {
	FailureThreshold   int `toml:"failure_threshold"`
	CooldownSeconds    int `toml:"cooldown_seconds"`
	MaxCooldownSeconds int `toml:"max_cooldown_seconds"`
}

// Store selects the checkpoint backend.
type Store struct {
	// Backend is one of "file", "sqlite" or "postgres".
	Backend     string `toml:"backend"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// Logging contains log output configuration.
type Logging struct {
	// Format is "console" or "json".
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Tool describes the external command serving one capability.
type Tool struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Config encapsulates all configuration values for the orchestrator.
type Config struct {
	Paths     Paths           `toml:"paths"`
	Execution Execution       `toml:"execution"`
	Retry     Retry           `toml:"retry"`
	Circuit   Circuit         `toml:"circuit"`
	Store     Store           `toml:"store"`
	Logging   Logging         `toml:"logging"`
	Tools     map[string]Tool `toml:"tools"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/director-agent/config.toml")
}

// Load locates, parses and validates a configuration file. A missing file is
// not an error; defaults apply. The returned path is where the config was
// read from (or would be written), and exists reports whether it was found.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("director.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the annotated sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() retry.Policy {
	jitter := retry.JitterFull
	if strings.EqualFold(c.Retry.Jitter, string(retry.JitterNone)) {
		jitter = retry.JitterNone
	}
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(c.Retry.MaxDelayMS) * time.Millisecond,
		BackoffRate: c.Retry.BackoffRate,
		Jitter:      jitter,
	}
}

// BreakerOptions converts the circuit section.
func (c *Config) BreakerOptions() circuit.BreakerOptions {
	return circuit.BreakerOptions{
		FailureThreshold: c.Circuit.FailureThreshold,
		Cooldown:         time.Duration(c.Circuit.CooldownSeconds) * time.Second,
		MaxCooldown:      time.Duration(c.Circuit.MaxCooldownSeconds) * time.Second,
	}
}

// GatewayOptions converts the tools and execution sections.
func (c *Config) GatewayOptions() tools.GatewayOptions {
	commands := make(map[director.Capability]tools.Command, len(c.Tools))
	for name, tool := range c.Tools {
		commands[director.Capability(name)] = tools.Command{
			Path:    tool.Command,
			Args:    tool.Args,
			Timeout: time.Duration(tool.TimeoutSeconds) * time.Second,
		}
	}
	return tools.GatewayOptions{
		Commands:       commands,
		DefaultTimeout: time.Duration(c.Execution.CallTimeoutSeconds) * time.Second,
		GracePeriod:    time.Duration(c.Execution.GracePeriodSeconds) * time.Second,
		MaxProcesses:   int64(c.Execution.MaxToolProcesses),
	}
}

// ArtifactDir returns the artifact root under the data dir.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.Paths.DataDir, "artifacts")
}

// RunDir returns the run checkpoint root under the data dir.
func (c *Config) RunDir() string {
	return filepath.Join(c.Paths.DataDir, "runs")
}

// LogDir returns the invocation log root under the data dir.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.DataDir, "logs")
}

// LockPath returns the data-dir lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "director.lock")
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		trimmed = filepath.Join(home, trimmed[2:])
	}
	return filepath.Abs(trimmed)
}
