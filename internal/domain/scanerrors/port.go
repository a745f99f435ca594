package scanerrors

import (
	"context"
)

// Repository defines persistence for scan errors
type Repository interface {
	Save(ctx context.Context, e *ScanError) error
	ListByAnalysis(ctx context.Context, analysisID string, limit int) ([]*ScanError, error)
}
