package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	director "github.com/charles-forsyth/director-agent"
	"github.com/charles-forsyth/director-agent/manifest"
)

func newSubmitCommand(c *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a production manifest or pipeline file and run it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := loadPipelineFile(args[0])
			if err != nil {
				return err
			}
			return executeRun(cmd.Context(), c, pipeline, "")
		},
	}
	return cmd
}

func newResumeCommand(c *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <run-id> <file>",
		Short: "Resume a previous run from its checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := loadPipelineFile(args[1])
			if err != nil {
				return err
			}
			return executeRun(cmd.Context(), c, pipeline, args[0])
		},
	}
	return cmd
}

// loadPipelineFile accepts either a production manifest (detected by its
// scenes list) or a raw pipeline definition.
func loadPipelineFile(path string) (*director.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var probe struct {
		Scenes []any `yaml:"scenes"`
	}
	if err := yaml.Unmarshal(data, &probe); err == nil && len(probe.Scenes) > 0 {
		m, err := manifest.Parse(data)
		if err != nil {
			return nil, err
		}
		return manifest.BuildPipeline(m)
	}
	return director.LoadString(string(data))
}

// executeRun wires the configured stores and gateway into an executor and
// drives one run to completion. An empty resumeID starts a fresh run.
func executeRun(ctx context.Context, c *commandContext, pipeline *director.Pipeline, resumeID string) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire data dir lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another director process holds %s", cfg.LockPath())
	}
	defer func() {
		_ = lock.Unlock()
	}()

	checkpointer, closeStore, err := c.openCheckpointer(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeStore()
	}()

	artifacts, err := c.openArtifacts()
	if err != nil {
		return err
	}
	gateway, err := c.openGateway()
	if err != nil {
		return err
	}
	circuits, err := c.circuits()
	if err != nil {
		return err
	}

	executor, err := director.NewExecutor(director.ExecutorOptions{
		Pipeline:         pipeline,
		Gateway:          gateway,
		Artifacts:        artifacts,
		Checkpointer:     checkpointer,
		InvocationLogger: director.NewFileInvocationLogger(cfg.LogDir()),
		Logger:           logger,
		Concurrency:      cfg.Execution.Concurrency,
		CallTimeout:      time.Duration(cfg.Execution.CallTimeoutSeconds) * time.Second,
		RetryPolicy:      cfg.RetryPolicy(),
		Circuits:         circuits,
		RunID:            resumeID,
	})
	if err != nil {
		return err
	}

	// First interrupt cancels cooperatively and waits for in-flight tool
	// calls; a second one aborts the process.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		<-signals
		color.Yellow("cancelling run, waiting for in-flight tool calls (interrupt again to abort)")
		executor.Cancel()
		<-signals
		os.Exit(130)
	}()

	color.Cyan("Pipeline: %s (%d jobs)", pipeline.Name(), len(pipeline.Jobs()))
	color.White("Run: %s", executor.ID())

	var runErr error
	if resumeID != "" {
		runErr = executor.Resume(ctx, resumeID)
	} else {
		runErr = executor.Run(ctx)
	}

	printRunResult(executor, pipeline)
	return runErr
}

func printRunResult(executor *director.Executor, pipeline *director.Pipeline) {
	states := executor.JobStates()
	rows := make([][]string, 0, len(states))
	for _, job := range pipeline.Jobs() {
		state, ok := states[job.ID]
		if !ok {
			continue
		}
		location := ""
		if state.Artifact != nil {
			location = state.Artifact.Location
		}
		detail := location
		if state.ErrorMessage != "" {
			detail = state.ErrorMessage
		}
		rows = append(rows, []string{
			job.DisplayName(),
			string(job.Capability),
			formatJobStatus(state),
			fmt.Sprintf("%d", state.Attempts),
			detail,
		})
	}
	fmt.Println(renderTable(
		[]string{"Job", "Capability", "Status", "Attempts", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))

	switch executor.Status() {
	case director.RunStatusCompleted:
		color.Green("Run %s completed", executor.ID())
	case director.RunStatusPartiallyFailed:
		color.Red("Run %s partially failed", executor.ID())
	case director.RunStatusCancelled:
		color.Yellow("Run %s cancelled", executor.ID())
	default:
		color.White("Run %s: %s", executor.ID(), executor.Status())
	}
}

func formatJobStatus(state *director.JobState) string {
	if state.Status == director.JobStatusSkipped && state.SkipReason != "" {
		return fmt.Sprintf("%s (%s)", state.Status, state.SkipReason)
	}
	return string(state.Status)
}
