package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Observer receives call and breaker events, e.g. for metrics.
type Observer interface {
	ObserveAttempt(name, outcome string)
	ObserveBreaker(name string, open bool)
}

// Attempt outcomes reported to an Observer.
const (
	OutcomeSuccess     = "success"
	OutcomeClientError = "client_error"
	OutcomeRetryable   = "retryable_error"
	OutcomeTimeout     = "timeout"
	OutcomeRejected    = "circuit_open"
)

// Caller wraps exactly one kind of outbound call.
type Caller struct {
	// Name identifies the call in logs and metrics.
	Name string

	// Timeout bounds every attempt; zero means no per-attempt bound.
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first.
	MaxRetries int

	// RetryDelays is the wait before retry i. When shorter than MaxRetries
	// its last value is reused.
	RetryDelays []time.Duration

	// Breaker is optional.
	Breaker Gate

	Observer Observer
	Logger   *slog.Logger

	// Sleep waits between attempts; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Call runs fn under c's policy. The breaker, when attached, is consulted
// once before the first attempt and told the final outcome once.
//
// An attempt failing with a 4xx StatusError or a Permanent error ends the
// call immediately. Timeouts, connection failures and 5xx responses are
// retried after the scheduled delay until MaxRetries is exhausted.
// Cancellation of ctx itself stops retrying and is not counted against the
// breaker.
func Call[T any](ctx context.Context, c *Caller, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if c.Breaker != nil && !c.Breaker.CanExecute() {
		c.observe(OutcomeRejected)
		return zero, fmt.Errorf("%s: %w", c.Name, ErrCircuitOpen)
	}

	attempts := c.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		v, err := runAttempt(ctx, c.Timeout, fn)
		if err == nil {
			c.observe(OutcomeSuccess)
			if c.Breaker != nil {
				c.Breaker.RecordSuccess()
			}
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", c.Name, ctx.Err())
		}
		if !Retryable(err) {
			c.observe(OutcomeClientError)
			break
		}
		if errors.Is(err, ErrTimeout) {
			c.observe(OutcomeTimeout)
		} else {
			c.observe(OutcomeRetryable)
		}
		if attempt == attempts-1 {
			break
		}

		delay := c.delay(attempt)
		c.logger().Warn("outbound call failed, retrying",
			"call", c.Name, "attempt", attempt+1, "max_attempts", attempts, "delay", delay, "err", err)
		if err := c.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", c.Name, err)
		}
	}

	if c.Breaker != nil {
		c.Breaker.RecordFailure()
	}
	return zero, fmt.Errorf("%s: %w", c.Name, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return v, fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
	}
	return v, err
}

// Budget is the worst-case wall time of one Call: every attempt timing out
// plus every scheduled delay. Zero means unbounded (no per-attempt timeout).
func (c *Caller) Budget() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return 0
	}
	total := time.Duration(c.MaxRetries+1) * c.Timeout
	for i := 0; i < c.MaxRetries; i++ {
		total += c.delay(i)
	}
	return total
}

func (c *Caller) delay(retry int) time.Duration {
	if len(c.RetryDelays) == 0 {
		return 0
	}
	if retry < len(c.RetryDelays) {
		return c.RetryDelays[retry]
	}
	return c.RetryDelays[len(c.RetryDelays)-1]
}

func (c *Caller) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Caller) observe(outcome string) {
	if c.Observer != nil {
		c.Observer.ObserveAttempt(c.Name, outcome)
	}
}

func (c *Caller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
