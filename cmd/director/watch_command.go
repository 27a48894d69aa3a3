package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func newWatchCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir]",
		Short: "Watch a directory and run each manifest dropped into it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.ensureConfig()
			if err != nil {
				return err
			}
			dir := cfg.Paths.WatchDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("no watch directory: pass one or set paths.watch_dir")
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create watch dir: %w", err)
			}
			return watchLoop(cmd.Context(), c, dir)
		},
	}
}

func watchLoop(ctx context.Context, c *commandContext, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.Cyan("Watching %s for manifest files", dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			color.Red("watch error: %v", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isManifestFile(event.Name) {
				continue
			}
			// Writers rarely land a file in one write; give them a
			// moment to finish before parsing.
			time.Sleep(500 * time.Millisecond)

			color.White("Submitting %s", event.Name)
			pipeline, err := loadPipelineFile(event.Name)
			if err != nil {
				color.Red("skipping %s: %v", event.Name, err)
				continue
			}
			if err := executeRun(ctx, c, pipeline, ""); err != nil {
				color.Red("run for %s finished with error: %v", event.Name, err)
			}
		}
	}
}

func isManifestFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
