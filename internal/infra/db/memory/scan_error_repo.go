package memory

import (
	"context"
	"sync"

	"github.com/bryanwahyu/automaton-pipeline/internal/domain/scanerrors"
)

// ScanErrorRepo implements scanerrors.Repository.
type ScanErrorRepo struct {
	mu     sync.Mutex
	nextID int64
	items  []scanerrors.ScanError
}

func NewScanErrorRepo() *ScanErrorRepo { return &ScanErrorRepo{} }

func (r *ScanErrorRepo) Save(ctx context.Context, e *scanerrors.ScanError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	r.items = append(r.items, *e)
	return nil
}

// ListByAnalysis returns the newest entries first.
func (r *ScanErrorRepo) ListByAnalysis(ctx context.Context, analysisID string, limit int) ([]*scanerrors.ScanError, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*scanerrors.ScanError, 0)
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].AnalysisID != analysisID {
			continue
		}
		e := r.items[i]
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
