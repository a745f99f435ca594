package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bryanwahyu/automaton-pipeline/internal/observability"
)

// Rule is one rate limit policy. Rules with different prefixes keep
// separate counters for the same subject.
type Rule struct {
	Prefix      string
	MaxRequests int
	Window      time.Duration
}

// Decision is the outcome of one Check. A denied request is a value, not
// an error.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is whole seconds until the window resets; zero when allowed.
	RetryAfter int
	ResetAt    time.Time
}

// Limiter counts requests per subject.
type Limiter interface {
	Check(subject string, rule Rule) Decision
}

type window struct {
	count  int
	expiry time.Time
}

// FixedWindowLimiter counts requests per (prefix, subject) in fixed windows.
// A request after the window expired starts a new window instead of
// carrying the old count over. Expired entries are swept lazily from Check,
// at most once per cleanup interval, so no background goroutine is needed.
type FixedWindowLimiter struct {
	mu              sync.Mutex
	windows         map[string]*window
	cleanupInterval time.Duration
	lastSweep       time.Time
	now             func() time.Time
}

// LimiterOption configures a FixedWindowLimiter.
type LimiterOption func(*FixedWindowLimiter)

// WithLimiterClock sets the time source.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *FixedWindowLimiter) { l.now = now }
}

// WithCleanupInterval sets the minimum time between sweeps.
func WithCleanupInterval(d time.Duration) LimiterOption {
	return func(l *FixedWindowLimiter) { l.cleanupInterval = d }
}

func NewFixedWindowLimiter(opts ...LimiterOption) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		windows:         make(map[string]*window),
		cleanupInterval: time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Check records one request and reports whether it is allowed. A rule with
// MaxRequests <= 0 or no window never limits.
func (l *FixedWindowLimiter) Check(subject string, rule Rule) Decision {
	if rule.MaxRequests <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true, Limit: rule.MaxRequests, Remaining: math.MaxInt32}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	key := rule.Prefix + ":" + subject
	w, ok := l.windows[key]
	if !ok || !now.Before(w.expiry) {
		w = &window{count: 1, expiry: now.Add(rule.Window)}
		l.windows[key] = w
		return Decision{Allowed: true, Limit: rule.MaxRequests, Remaining: rule.MaxRequests - 1, ResetAt: w.expiry}
	}

	w.count++
	if w.count > rule.MaxRequests {
		return Decision{
			Allowed:    false,
			Limit:      rule.MaxRequests,
			Remaining:  0,
			RetryAfter: retryAfterSeconds(w.expiry.Sub(now)),
			ResetAt:    w.expiry,
		}
	}
	return Decision{Allowed: true, Limit: rule.MaxRequests, Remaining: rule.MaxRequests - w.count, ResetAt: w.expiry}
}

// Len is the number of live windows, used by tests and debug output.
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *FixedWindowLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.cleanupInterval {
		return
	}
	l.lastSweep = now
	for key, w := range l.windows {
		if !now.Before(w.expiry) {
			delete(l.windows, key)
		}
	}
}

// retryAfterSeconds rounds up so a client never retries too early.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// SubjectFunc picks the counter subject for a request.
type SubjectFunc func(r *http.Request) string

// SubjectUser keys on the authenticated user, falling back to the remote
// address for anonymous requests.
func SubjectUser(r *http.Request) string {
	if u := UserFromContext(r.Context()); u != "" {
		return u
	}
	return r.RemoteAddr
}

// RateLimit rejects requests over rule with 429 and a Retry-After header.
func RateLimit(l Limiter, rule Rule, subject SubjectFunc, m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Check(subject(r), rule)
			if d.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				if !d.ResetAt.IsZero() {
					w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
				}
			}
			if !d.Allowed {
				m.ObserveRateLimited(rule.Prefix)
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":       "rate limit exceeded",
					"retry_after": d.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
