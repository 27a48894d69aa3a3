package circuit

import "sync"

// Registry holds one breaker per capability. Circuits model the health of an
// external dependency, so a registry is shared across all runs in a process
// rather than scoped to one pipeline.
type Registry struct {
	opts     BreakerOptions
	mutex    sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry returns a registry whose breakers share the given options.
func NewRegistry(opts BreakerOptions) *Registry {
	return &Registry{
		opts:     opts,
		breakers: map[string]*Breaker{},
	}
}

// For returns the breaker for a capability, creating it closed on first use.
func (r *Registry) For(capability string) *Breaker {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	breaker, ok := r.breakers[capability]
	if !ok {
		breaker = NewBreaker(r.opts)
		r.breakers[capability] = breaker
	}
	return breaker
}
