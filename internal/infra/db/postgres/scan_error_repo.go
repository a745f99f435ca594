package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/scanerrors"
)

type ScanErrorRepository struct {
	db *sql.DB
}

func NewScanErrorRepository(db *sql.DB) *ScanErrorRepository { return &ScanErrorRepository{db: db} }

// Save inserts e and sets e.ID from RETURNING; lib/pq has no LastInsertId.
func (r *ScanErrorRepository) Save(ctx context.Context, e *domain.ScanError) error {
	const q = `
INSERT INTO analysis_scan_errors (analysis_id, phase, message, details_json, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	return r.db.QueryRowContext(ctx, q,
		e.AnalysisID, string(e.Phase), msg, domain.NormalizeDetails(e.DetailsJSON), created.UTC(),
	).Scan(&e.ID)
}

func (r *ScanErrorRepository) ListByAnalysis(ctx context.Context, analysisID string, limit int) ([]*domain.ScanError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, analysis_id, phase, message, details_json, created_at
FROM analysis_scan_errors
WHERE analysis_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, analysisID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.ScanError, 0)
	for rows.Next() {
		var e domain.ScanError
		var phase string
		if err := rows.Scan(&e.ID, &e.AnalysisID, &phase, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Phase = domain.Phase(phase)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}
