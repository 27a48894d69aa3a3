package director

import (
	"context"
	"time"
)

// RunCallbacks defines the callback interface for run execution events.
type RunCallbacks interface {
	// Run-level callbacks
	BeforeRun(ctx context.Context, event *RunEvent)
	AfterRun(ctx context.Context, event *RunEvent)

	// Job-level callbacks
	BeforeJob(ctx context.Context, event *JobEvent)
	AfterJob(ctx context.Context, event *JobEvent)
}

// RunEvent provides context for run-level events.
type RunEvent struct {
	RunID        string
	PipelineName string
	Status       RunStatus
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	JobCount     int
	Error        error
}

// JobEvent provides context for job-level events.
type JobEvent struct {
	RunID      string
	JobID      string
	JobName    string
	Capability Capability
	Status     JobStatus
	SkipReason SkipReason
	Attempts   int
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Artifact   *Artifact
	Error      error
}

// BaseRunCallbacks provides a default implementation that does nothing.
// Embed this in your own callbacks to override only the events you need.
type BaseRunCallbacks struct{}

func (n *BaseRunCallbacks) BeforeRun(ctx context.Context, event *RunEvent) {
	// noop
}

func (n *BaseRunCallbacks) AfterRun(ctx context.Context, event *RunEvent) {
	// noop
}

func (n *BaseRunCallbacks) BeforeJob(ctx context.Context, event *JobEvent) {
	// noop
}

func (n *BaseRunCallbacks) AfterJob(ctx context.Context, event *JobEvent) {
	// noop
}

// CallbackChain allows chaining multiple callback implementations.
type CallbackChain struct {
	callbacks []RunCallbacks
}

// NewCallbackChain creates a new callback chain.
func NewCallbackChain(callbacks ...RunCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain.
func (c *CallbackChain) Add(callback RunCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeRun(ctx context.Context, event *RunEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeRun(ctx, event)
	}
}

func (c *CallbackChain) AfterRun(ctx context.Context, event *RunEvent) {
	for _, callback := range c.callbacks {
		callback.AfterRun(ctx, event)
	}
}

func (c *CallbackChain) BeforeJob(ctx context.Context, event *JobEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeJob(ctx, event)
	}
}

func (c *CallbackChain) AfterJob(ctx context.Context, event *JobEvent) {
	for _, callback := range c.callbacks {
		callback.AfterJob(ctx, event)
	}
}
