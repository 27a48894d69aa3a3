// Package tools provides the process-backed tool gateway. Every invocation
// launches one external command, feeds it a JSON request on stdin, and reads
// a JSON result from stdout. Commands run in their own process group so
// cancellation can reach helpers they spawn.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	director "github.com/charles-forsyth/director-agent"
)

// Exit codes tools use to report failure classes. Anything else is treated
// as transient.
const (
	exitInvalidRequest = 2
	exitContentPolicy  = 3
)

const stderrTailLimit = 2048

// Command describes the external program serving one capability.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// GatewayOptions configures a process gateway.
type GatewayOptions struct {
	// Commands maps each capability to its external program.
	Commands map[director.Capability]Command

	// DefaultTimeout applies when neither the invocation nor the command
	// specifies one.
	DefaultTimeout time.Duration

	// GracePeriod is how long a signaled process gets to exit before the
	// whole process group is killed.
	GracePeriod time.Duration

	// MaxProcesses bounds concurrently running tool processes across all
	// capabilities. Zero means 4.
	MaxProcesses int64

	Logger *slog.Logger
}

// Gateway invokes external generation tools, one process per call.
type Gateway struct {
	commands       map[director.Capability]Command
	defaultTimeout time.Duration
	gracePeriod    time.Duration
	processes      *semaphore.Weighted
	logger         *slog.Logger
}

// NewGateway creates a process gateway.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	if len(opts.Commands) == 0 {
		return nil, fmt.Errorf("at least one tool command is required")
	}
	for capability, command := range opts.Commands {
		if !capability.Valid() {
			return nil, fmt.Errorf("unknown capability %q", capability)
		}
		if command.Path == "" {
			return nil, fmt.Errorf("capability %s: command path is required", capability)
		}
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 10 * time.Minute
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 10 * time.Second
	}
	if opts.MaxProcesses <= 0 {
		opts.MaxProcesses = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gateway{
		commands:       opts.Commands,
		defaultTimeout: opts.DefaultTimeout,
		gracePeriod:    opts.GracePeriod,
		processes:      semaphore.NewWeighted(opts.MaxProcesses),
		logger:         opts.Logger,
	}, nil
}

// request is the JSON document written to the tool's stdin.
type request struct {
	InvocationID string            `json:"invocation_id"`
	RunID        string            `json:"run_id"`
	JobID        string            `json:"job_id"`
	Capability   string            `json:"capability"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Inputs       map[string]string `json:"inputs,omitempty"`
	OutputDir    string            `json:"output_dir"`
}

// result is the JSON document a successful tool writes to stdout.
type result struct {
	Location  string            `json:"location"`
	MediaType string            `json:"media_type,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Invoke implements director.Gateway.
func (g *Gateway) Invoke(ctx context.Context, inv *director.Invocation) (*director.ArtifactMeta, error) {
	command, ok := g.commands[inv.Capability]
	if !ok {
		return nil, director.NewPermanentError(inv.Capability,
			fmt.Sprintf("no tool configured for capability %s", inv.Capability))
	}

	if err := g.processes.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.processes.Release(1)

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = command.Timeout
	}
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inputs := make(map[string]string, len(inv.Inputs))
	for depID, artifact := range inv.Inputs {
		inputs[depID] = artifact.Location
	}
	requestBody, err := json.Marshal(request{
		InvocationID: uuid.NewString(),
		RunID:        inv.RunID,
		JobID:        inv.JobID,
		Capability:   string(inv.Capability),
		Parameters:   inv.Parameters,
		Inputs:       inputs,
		OutputDir:    inv.OutputDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool request: %w", err)
	}

	stdout, stderr, err := g.runProcess(ctx, callCtx, command, requestBody, inv)
	if err != nil {
		return nil, err
	}

	var res result
	if err := json.Unmarshal(stdout, &res); err != nil {
		return nil, director.NewTransientError(inv.Capability,
			fmt.Sprintf("tool produced invalid output: %v (stderr: %s)", err, tail(stderr)))
	}
	if res.Location == "" {
		return nil, director.NewTransientError(inv.Capability,
			"tool result is missing an artifact location")
	}
	if !filepath.IsAbs(res.Location) {
		res.Location = filepath.Join(inv.OutputDir, res.Location)
	}
	return &director.ArtifactMeta{
		Location:  res.Location,
		MediaType: res.MediaType,
		Metadata:  res.Metadata,
	}, nil
}

// runProcess starts the command in its own process group and waits for it,
// terminating the group on timeout or cancellation. SIGTERM first, SIGKILL
// after the grace period.
func (g *Gateway) runProcess(ctx, callCtx context.Context, command Command, stdin []byte, inv *director.Invocation) ([]byte, []byte, error) {
	cmd := exec.Command(command.Path, command.Args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, nil, director.NewTransientError(inv.Capability,
			fmt.Sprintf("failed to start %s: %v", command.Path, err))
	}
	g.logger.Debug("tool process started",
		"capability", inv.Capability,
		"job_id", inv.JobID,
		"command", command.Path,
		"pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-callCtx.Done():
		g.terminate(cmd, done)
		if ctx.Err() != nil {
			// The run was cancelled, not the call deadline.
			return nil, nil, ctx.Err()
		}
		return nil, nil, director.NewTransientError(inv.Capability,
			fmt.Sprintf("tool %s exceeded timeout after %s", command.Path, time.Since(started).Round(time.Millisecond)))
	}

	if waitErr != nil {
		return nil, nil, g.classifyExit(inv.Capability, command.Path, waitErr, stderr.Bytes())
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// terminate signals the process group and escalates to SIGKILL when the
// grace period expires.
func (g *Gateway) terminate(cmd *exec.Cmd, done <-chan error) {
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	timer := time.NewTimer(g.gracePeriod)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
		g.logger.Warn("tool ignored termination signal, killing process group", "pid", pgid)
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
}

func (g *Gateway) classifyExit(capability director.Capability, path string, waitErr error, stderr []byte) error {
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return director.NewTransientError(capability,
			fmt.Sprintf("tool %s failed: %v", path, waitErr))
	}
	code := exitErr.ExitCode()
	cause := fmt.Sprintf("tool %s exited with code %d: %s", path, code, tail(stderr))
	switch code {
	case exitInvalidRequest:
		return director.NewPermanentError(capability, cause)
	case exitContentPolicy:
		return director.NewSafetyRejectedError(capability, cause)
	default:
		return director.NewTransientError(capability, cause)
	}
}

func tail(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > stderrTailLimit {
		s = "..." + s[len(s)-stderrTailLimit:]
	}
	if s == "" {
		return "(no stderr)"
	}
	return s
}
