package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	director "github.com/charles-forsyth/director-agent"
	"github.com/charles-forsyth/director-agent/circuit"
	"github.com/charles-forsyth/director-agent/config"
	"github.com/charles-forsyth/director-agent/store/postgres"
	"github.com/charles-forsyth/director-agent/store/sqlite"
	"github.com/charles-forsyth/director-agent/tools"
)

// commandContext carries lazily loaded configuration shared by all
// subcommands.
type commandContext struct {
	configFlag *string

	cfg      *config.Config
	cfgPath  string
	registry *circuit.Registry
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, path, _, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.cfgPath = path
	return cfg, nil
}

// circuits returns the process-wide breaker registry. Breakers track the
// health of external tools, so every run in this process shares one registry
// per capability rather than starting fresh.
func (c *commandContext) circuits() (*circuit.Registry, error) {
	if c.registry != nil {
		return c.registry, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.registry = circuit.NewRegistry(cfg.BreakerOptions())
	return c.registry, nil
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Logging.Format == "json" {
		return director.NewJSONLogger(level), nil
	}
	return director.NewLogger(level), nil
}

// openCheckpointer opens the configured checkpoint backend. The returned
// close function is a no-op for the file backend.
func (c *commandContext) openCheckpointer(ctx context.Context) (director.Checkpointer, func() error, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	noop := func() error { return nil }
	switch cfg.Store.Backend {
	case "file":
		checkpointer, err := director.NewFileCheckpointer(cfg.RunDir())
		if err != nil {
			return nil, nil, err
		}
		return checkpointer, noop, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "postgres":
		store, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func (c *commandContext) openArtifacts() (*director.ArtifactStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return director.NewArtifactStore(cfg.ArtifactDir())
}

func (c *commandContext) openGateway() (director.Gateway, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	opts := cfg.GatewayOptions()
	opts.Logger = logger
	return tools.NewGateway(opts)
}
