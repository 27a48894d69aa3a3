package config

import (
	"errors"
	"fmt"

	director "github.com/charles-forsyth/director-agent"
	"github.com/charles-forsyth/director-agent/retry"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateExecution(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateCircuit(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateTools()
}

func (c *Config) validateExecution() error {
	if c.Execution.Concurrency <= 0 {
		return errors.New("execution.concurrency must be positive")
	}
	if c.Execution.CallTimeoutSeconds <= 0 {
		return errors.New("execution.call_timeout_seconds must be positive")
	}
	if c.Execution.GracePeriodSeconds <= 0 {
		return errors.New("execution.grace_period_seconds must be positive")
	}
	if c.Execution.MaxToolProcesses <= 0 {
		return errors.New("execution.max_tool_processes must be positive")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelayMS <= 0 {
		return errors.New("retry.base_delay_ms must be positive")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be at least retry.base_delay_ms")
	}
	if c.Retry.BackoffRate < 1 {
		return errors.New("retry.backoff_rate must be at least 1")
	}
	if c.Retry.Jitter != string(retry.JitterFull) && c.Retry.Jitter != string(retry.JitterNone) {
		return fmt.Errorf("retry.jitter must be %s or %s", retry.JitterFull, retry.JitterNone)
	}
	return nil
}

func (c *Config) validateCircuit() error {
	if c.Circuit.FailureThreshold <= 0 {
		return errors.New("circuit.failure_threshold must be positive")
	}
	if c.Circuit.CooldownSeconds <= 0 {
		return errors.New("circuit.cooldown_seconds must be positive")
	}
	if c.Circuit.MaxCooldownSeconds < c.Circuit.CooldownSeconds {
		return errors.New("circuit.max_cooldown_seconds must be at least circuit.cooldown_seconds")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "file":
		return nil
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path must be set for the sqlite backend")
		}
		return nil
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn must be set for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("store.backend must be file, sqlite or postgres, got %q", c.Store.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateTools() error {
	for name, tool := range c.Tools {
		if !director.Capability(name).Valid() {
			return fmt.Errorf("tools.%s: unknown capability", name)
		}
		if tool.Command == "" {
			return fmt.Errorf("tools.%s: command must be set", name)
		}
		if tool.TimeoutSeconds < 0 {
			return fmt.Errorf("tools.%s: timeout_seconds must not be negative", name)
		}
	}
	return nil
}
