package mysql

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

func (r *ScanErrorRepository) Save(ctx context.Context, e *domain.ScanError) error {
	const q = `
INSERT INTO analysis_scan_errors
  (analysis_id, phase, message, details_json, created_at)
VALUES (?,?,?,?,?)
`
	msg, details, created := normalize(e)
	res, err := r.db.ExecContext(ctx, q, e.AnalysisID, dashIfEmpty(string(e.Phase)), msg, details, created)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (r *ScanErrorRepository) ListByAnalysis(ctx context.Context, analysisID string, limit int) ([]*domain.ScanError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, analysis_id, phase, message, details_json, created_at
FROM analysis_scan_errors
WHERE analysis_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
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
		out = append(out, &e)
	}
	return out, rows.Err()
}

// normalize fills the NOT NULL columns. Details that are not valid JSON
// are wrapped as {"raw": ...}.
func normalize(e *domain.ScanError) (msg, details string, created time.Time) {
	msg = dashIfEmpty(e.Message)
	details = domain.NormalizeDetails(e.DetailsJSON)
	created = e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return msg, details, created.UTC()
}

func dashIfEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
