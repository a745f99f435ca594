// Package memory keeps analyses and scan errors in process memory. It backs
// the "memory" database driver used for local runs and tests; data is lost
// on restart.
package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
)

// AnalysisRepo implements analyses.Repository.
type AnalysisRepo struct {
	mu    sync.Mutex
	items map[domain.AnalysisID]*domain.Analysis
}

func NewAnalysisRepo() *AnalysisRepo {
	return &AnalysisRepo{items: make(map[domain.AnalysisID]*domain.Analysis)}
}

func (r *AnalysisRepo) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *AnalysisRepo) Update(ctx context.Context, id domain.AnalysisID, u domain.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.ApplyTo(a)
	return nil
}

// CreateWithinQuota counts and inserts under one lock, which gives the
// same guarantee the SQL adapters get from their transaction.
func (r *AnalysisRepo) CreateWithinQuota(ctx context.Context, a *domain.Analysis, limits domain.QuotaLimits) (domain.QuotaCheck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := monthStart(a.CreatedAt)
	monthly, concurrent := 0, 0
	for _, x := range r.items {
		if x.UserID != a.UserID {
			continue
		}
		if !x.CreatedAt.Before(start) {
			monthly++
		}
		if !domain.IsTerminalStatus(x.Status) {
			concurrent++
		}
	}
	if rej := domain.EvaluateQuota(limits, monthly, concurrent); rej != nil {
		return domain.QuotaCheck{Rejection: rej}, nil
	}
	r.items[a.ID] = a.Clone()
	return domain.QuotaCheck{Created: a.Clone()}, nil
}

// Len is the number of stored analyses.
func (r *AnalysisRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func monthStart(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
