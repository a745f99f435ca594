package sqlite

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
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO analysis_scan_errors (analysis_id, phase, message, details_json, created_at)
VALUES (?, ?, ?, ?, ?)`,
		e.AnalysisID, string(e.Phase), msg, domain.NormalizeDetails(e.DetailsJSON), formatTime(created))
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
	rows, err := r.db.QueryContext(ctx, `
SELECT id, analysis_id, phase, message, details_json, created_at
FROM analysis_scan_errors
WHERE analysis_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, analysisID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.ScanError, 0)
	for rows.Next() {
		var e domain.ScanError
		var phase, created string
		if err := rows.Scan(&e.ID, &e.AnalysisID, &phase, &e.Message, &e.DetailsJSON, &created); err != nil {
			return nil, err
		}
		e.Phase = domain.Phase(phase)
		if t, err := parseTime(created); err == nil {
			e.CreatedAt = t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
