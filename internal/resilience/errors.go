package resilience

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCircuitOpen is returned without any network attempt while the
	// guarding breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout marks an attempt that exceeded the caller's timeout.
	ErrTimeout = errors.New("call timed out")
)

// StatusError is returned by HTTP clients for non-2xx responses so the
// caller can tell client errors from server errors.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

// IsClientError reports whether the status is in the 4xx range.
func (e *StatusError) IsClientError() bool {
	return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, e.g. an undecodable response
// body from a call that otherwise succeeded.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable classifies an attempt error. Client errors (4xx) and permanent
// errors are final; timeouts, connection failures and 5xx are retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError
	}
	return true
}
