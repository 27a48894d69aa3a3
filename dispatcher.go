package director

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/charles-forsyth/director-agent/circuit"
	"github.com/charles-forsyth/director-agent/retry"
)

// RetryingGateway decorates a Gateway with exponential backoff for transient
// failures and a per-capability circuit breaker. It holds no knowledge of
// any specific capability; classification comes entirely from the error
// taxonomy.
type RetryingGateway struct {
	gateway  Gateway
	policy   retry.Policy
	circuits *circuit.Registry
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	rngMutex sync.Mutex
	rng      *rand.Rand
}

// RetryingGatewayOptions configures a RetryingGateway.
type RetryingGatewayOptions struct {
	Gateway  Gateway
	Policy   retry.Policy
	Circuits *circuit.Registry
	Logger   *slog.Logger

	// Sleep overrides the inter-attempt wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryingGateway wraps a gateway with retry and circuit handling.
func NewRetryingGateway(opts RetryingGatewayOptions) (*RetryingGateway, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Circuits == nil {
		opts.Circuits = circuit.NewRegistry(circuit.BreakerOptions{})
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &RetryingGateway{
		gateway:  opts.Gateway,
		policy:   opts.Policy,
		circuits: opts.Circuits,
		logger:   opts.Logger,
		sleep:    opts.Sleep,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Invoke implements Gateway.
func (g *RetryingGateway) Invoke(ctx context.Context, inv *Invocation) (*ArtifactMeta, error) {
	meta, _, err := g.InvokeWithStats(ctx, inv)
	return meta, err
}

// InvokeWithStats invokes the wrapped gateway, retrying transient failures
// per the policy, and returns the number of attempts made. Safety
// rejections return immediately without touching the circuit; permanent
// errors trip the circuit and are not retried.
func (g *RetryingGateway) InvokeWithStats(ctx context.Context, inv *Invocation) (*ArtifactMeta, int, error) {
	breaker := g.circuits.For(string(inv.Capability))

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}
		if err := breaker.Allow(); err != nil {
			return nil, attempts, fmt.Errorf("capability %s: %w", inv.Capability, err)
		}

		meta, err := g.gateway.Invoke(ctx, inv)
		attempts++
		if err == nil {
			breaker.RecordSuccess()
			return meta, attempts, nil
		}

		// Cancellation is intentional, not a tool failure. Free any
		// half-open trial slot this call was holding.
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			breaker.Release()
			return nil, attempts, err
		}

		toolErr := ClassifyError(inv.Capability, err)
		switch toolErr.Kind {
		case ErrorKindSafety:
			breaker.Release()
			return nil, attempts, toolErr
		case ErrorKindPermanent:
			breaker.Trip()
			return nil, attempts, toolErr
		}

		breaker.RecordFailure()
		if g.policy.Exhausted(attempts) {
			g.logger.Warn("retries exhausted",
				"capability", inv.Capability,
				"job_id", inv.JobID,
				"attempts", attempts,
				"error", toolErr.Error())
			return nil, attempts, toolErr
		}

		delay := g.policy.Delay(attempts-1, g.nextRand())
		g.logger.Debug("retrying after transient failure",
			"capability", inv.Capability,
			"job_id", inv.JobID,
			"attempt", attempts,
			"delay", delay,
			"error", toolErr.Error())
		if err := g.sleep(ctx, delay); err != nil {
			return nil, attempts, err
		}
	}
}

// nextRand returns the shared rng under lock. rand.Rand is not safe for
// concurrent use and invocations run from many goroutines.
func (g *RetryingGateway) nextRand() *rand.Rand {
	g.rngMutex.Lock()
	defer g.rngMutex.Unlock()
	return rand.New(rand.NewSource(g.rng.Int63()))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
