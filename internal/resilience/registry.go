package resilience

import (
	"fmt"
	"sort"
	"sync"
)

// Registry owns the long-lived breakers, one per downstream dependency,
// so administrative endpoints can list and reset them by name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// Register adds cb, replacing any breaker with the same name.
func (r *Registry) Register(cb *CircuitBreaker) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[cb.Name()] = cb
	return cb
}

// Get returns the named breaker.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Snapshots returns every breaker's state ordered by name.
func (r *Registry) Snapshots() []BreakerState {
	r.mu.RLock()
	out := make([]BreakerState, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset closes the named breaker.
func (r *Registry) Reset(name string) error {
	cb, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown circuit breaker %q", name)
	}
	cb.Reset()
	return nil
}
