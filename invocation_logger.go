package director

import (
	"context"
	"time"
)

// InvocationLogEntry records one external tool invocation.
type InvocationLogEntry struct {
	RunID      string            `json:"run_id"`
	JobID      string            `json:"job_id"`
	Capability Capability        `json:"capability"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Attempts   int               `json:"attempts"`
	CacheHit   bool              `json:"cache_hit,omitempty"`
	Location   string            `json:"location,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartTime  time.Time         `json:"start_time"`
	Duration   float64           `json:"duration"`
}

// InvocationLogger records completed tool invocations for audit and debug.
type InvocationLogger interface {
	// LogInvocation logs a completed invocation.
	LogInvocation(ctx context.Context, entry *InvocationLogEntry) error

	// GetInvocationHistory retrieves the invocation log for a run.
	GetInvocationHistory(ctx context.Context, runID string) ([]*InvocationLogEntry, error)
}
