// Package resilience guards outbound calls to slow, unreliable workers.
//
// A CircuitBreaker stops traffic to one dependency after repeated failures
// and lets a trial call through once its cooldown has elapsed. A Caller
// bounds a single outbound call with a timeout and a fixed retry schedule,
// and reports the final outcome to an attached breaker.
//
// Breaker state is process-local. Call sites depend on the Gate interface
// so a shared store can back it in multi-instance deployments.
package resilience

import (
	"sync"
	"time"
)

// Gate is the breaker surface seen by callers.
type Gate interface {
	CanExecute() bool
	RecordSuccess()
	RecordFailure()
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker (default: 5).
	FailureThreshold int

	// ResetTimeout is the cooldown measured from the last failure before a
	// trial call is allowed (default: 60s).
	ResetTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	return c
}

// BreakerState is a point-in-time view of a breaker.
type BreakerState struct {
	Name          string        `json:"name"`
	FailureCount  int           `json:"failure_count"`
	LastFailureAt *time.Time    `json:"last_failure_at,omitempty"`
	Threshold     int           `json:"threshold"`
	Cooldown      time.Duration `json:"cooldown_ns"`
	IsOpen        bool          `json:"is_open"`
}

// CircuitBreaker guards one external dependency.
//
// Thread Safety: Safe for concurrent use.
type CircuitBreaker struct {
	name     string
	config   BreakerConfig
	now      func() time.Time
	observer Observer

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool
}

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithBreakerObserver reports open/closed changes.
func WithBreakerObserver(o Observer) BreakerOption {
	return func(cb *CircuitBreaker) { cb.observer = o }
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.report()
	return cb
}

// Name returns the guarded dependency's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// CanExecute returns false while the breaker is open and the cooldown since
// the last failure has not elapsed. After the cooldown it returns true so a
// trial call can go through; there is no separate half-open state.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.allowLocked()
}

func (cb *CircuitBreaker) allowLocked() bool {
	if !cb.open {
		return true
	}
	return cb.now().Sub(cb.lastFailure) >= cb.config.ResetTimeout
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.failures = 0
	cb.open = false
	cb.mu.Unlock()
	cb.report()
}

// RecordFailure counts a failure and opens the breaker once the threshold
// is reached. A failed trial call re-opens it for another full cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.failures++
	cb.lastFailure = cb.now()
	if cb.failures >= cb.config.FailureThreshold {
		cb.open = true
	}
	cb.mu.Unlock()
	cb.report()
}

// Reset forces the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures = 0
	cb.lastFailure = time.Time{}
	cb.open = false
	cb.mu.Unlock()
	cb.report()
}

// Snapshot returns the current state.
func (cb *CircuitBreaker) Snapshot() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := BreakerState{
		Name:         cb.name,
		FailureCount: cb.failures,
		Threshold:    cb.config.FailureThreshold,
		Cooldown:     cb.config.ResetTimeout,
		IsOpen:       !cb.allowLocked(),
	}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		st.LastFailureAt = &t
	}
	return st
}

func (cb *CircuitBreaker) report() {
	if cb.observer == nil {
		return
	}
	cb.mu.Lock()
	open := cb.open
	cb.mu.Unlock()
	cb.observer.ObserveBreaker(cb.name, open)
}
