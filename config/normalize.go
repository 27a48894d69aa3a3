package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.WatchDir != "" {
		if c.Paths.WatchDir, err = expandPath(c.Paths.WatchDir); err != nil {
			return fmt.Errorf("paths.watch_dir: %w", err)
		}
	}

	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "sqlite" && strings.TrimSpace(c.Store.SQLitePath) == "" {
		c.Store.SQLitePath = c.Paths.DataDir + "/runs.db"
	}
	if c.Store.SQLitePath != "" {
		if c.Store.SQLitePath, err = expandPath(c.Store.SQLitePath); err != nil {
			return fmt.Errorf("store.sqlite_path: %w", err)
		}
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	c.Retry.Jitter = strings.ToUpper(strings.TrimSpace(c.Retry.Jitter))
	if c.Retry.Jitter == "" {
		c.Retry.Jitter = defaultRetryJitter
	}

	normalized := make(map[string]Tool, len(c.Tools))
	for name, tool := range c.Tools {
		normalized[strings.ToLower(strings.TrimSpace(name))] = tool
	}
	c.Tools = normalized
	return nil
}
