package director

import (
	"context"
	"time"
)

// Invocation carries everything a gateway needs to run one external
// generation call: the abstract request plus the deterministic output
// location the tool must write under.
type Invocation struct {
	RunID      string
	JobID      string
	Capability Capability
	Parameters map[string]string

	// Inputs holds the artifacts of dependency jobs, keyed by job id.
	Inputs map[string]*Artifact

	// OutputDir is the job's directory in the artifact store.
	OutputDir string

	// Timeout bounds the external call. Zero means no per-call timeout.
	Timeout time.Duration
}

// ArtifactMeta describes where an invocation left its output.
type ArtifactMeta struct {
	Location  string            `json:"location"`
	MediaType string            `json:"media_type,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Gateway turns an abstract (capability, parameters) request into exactly one
// external invocation. A gateway performs no retries of its own; transient
// failure handling belongs to the RetryingGateway decorator. Cancelling the
// context must terminate the underlying call.
type Gateway interface {
	Invoke(ctx context.Context, inv *Invocation) (*ArtifactMeta, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, inv *Invocation) (*ArtifactMeta, error)

// Invoke calls the wrapped function.
func (f GatewayFunc) Invoke(ctx context.Context, inv *Invocation) (*ArtifactMeta, error) {
	return f(ctx, inv)
}
