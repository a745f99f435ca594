package analyses

import (
	"context"
	"fmt"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
)

// LimitChecker resolves a user's plan limits and hands them to the
// repository's single-transaction check-and-create. The comparison never
// happens here, so two concurrent starts cannot both pass a stale count.
type LimitChecker struct {
	Plans domain.PlanResolver
	Repo  domain.Repository
}

// CheckAndCreate inserts a when the user's monthly and concurrent quotas
// allow it. A quota refusal is reported in the returned QuotaCheck, not as
// an error.
func (l *LimitChecker) CheckAndCreate(ctx context.Context, a *domain.Analysis) (domain.QuotaCheck, error) {
	limits, err := l.Plans.Resolve(ctx, a.UserID)
	if err != nil {
		return domain.QuotaCheck{}, fmt.Errorf("resolving plan for user %s: %w", a.UserID, err)
	}
	res, err := l.Repo.CreateWithinQuota(ctx, a, limits.Quota())
	if err != nil {
		return domain.QuotaCheck{}, fmt.Errorf("creating analysis: %w", err)
	}
	return res, nil
}
