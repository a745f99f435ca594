package analyses

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when no record matches.
var ErrNotFound = errors.New("analysis not found")

// Repository port (interface untuk persistence)
type Repository interface {
	Get(ctx context.Context, id AnalysisID) (*Analysis, error)
	// Update applies a sparse patch. Severity counters must be applied from
	// CountsDelta as an atomic increment.
	Update(ctx context.Context, id AnalysisID, u Update) error
	// CreateWithinQuota counts the user's runs and inserts a inside one
	// transaction. When a limit is hit nothing is inserted and the returned
	// QuotaCheck carries the rejection.
	CreateWithinQuota(ctx context.Context, a *Analysis, limits QuotaLimits) (QuotaCheck, error)
}

// Unlimited is the plan sentinel for "no limit".
const Unlimited = -1

// PlanLimits are the per-subscription numeric limits.
type PlanLimits struct {
	Plan                 string  `json:"plan"`
	MonthlyLimit         int     `json:"monthly_limit"`
	ConcurrentLimit      int     `json:"concurrent_limit"`
	ContainerMemoryLimit int64   `json:"container_memory_limit"`
	ContainerCPULimit    float64 `json:"container_cpu_limit"`
	ContainerPidsLimit   int     `json:"container_pids_limit"`
}

// Quota returns the subset of limits used by the atomic quota check.
func (p PlanLimits) Quota() QuotaLimits {
	return QuotaLimits{Monthly: p.MonthlyLimit, Concurrent: p.ConcurrentLimit}
}

// PlanResolver port: resolves limits for a user's subscription.
type PlanResolver interface {
	Resolve(ctx context.Context, userID string) (PlanLimits, error)
}

// QuotaLimits passed to CreateWithinQuota. Unlimited disables a check.
type QuotaLimits struct {
	Monthly    int
	Concurrent int
}

// QuotaReason names the invariant that failed.
type QuotaReason string

const (
	QuotaMonthly    QuotaReason = "MONTHLY_LIMIT"
	QuotaConcurrent QuotaReason = "CONCURRENT_LIMIT"
)

// QuotaRejection is a structured refusal, not an error.
type QuotaRejection struct {
	Reason  QuotaReason `json:"error"`
	Current int         `json:"current"`
	Limit   int         `json:"limit"`
}

func (r QuotaRejection) String() string {
	return fmt.Sprintf("%s: %d/%d", r.Reason, r.Current, r.Limit)
}

// QuotaCheck is the outcome of CreateWithinQuota: exactly one of Created
// and Rejection is set.
type QuotaCheck struct {
	Created   *Analysis
	Rejection *QuotaRejection
}

// EvaluateQuota applies the limits to the counts observed inside the
// creating transaction. The monthly limit is checked first.
func EvaluateQuota(limits QuotaLimits, monthly, concurrent int) *QuotaRejection {
	if limits.Monthly != Unlimited && monthly >= limits.Monthly {
		return &QuotaRejection{Reason: QuotaMonthly, Current: monthly, Limit: limits.Monthly}
	}
	if limits.Concurrent != Unlimited && concurrent >= limits.Concurrent {
		return &QuotaRejection{Reason: QuotaConcurrent, Current: concurrent, Limit: limits.Concurrent}
	}
	return nil
}

// TerminalStatuses lists the terminal set, e.g. for SQL NOT IN clauses.
func TerminalStatuses() []Status {
	return []Status{StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCancelled}
}
