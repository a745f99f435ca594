package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

const analysisColumns = `id, user_id, project_id, repository_url, branch, status, logs,
       static_analysis_report, penetration_test_report, executive_summary, step_results, exploit_session_id,
       vulnerabilities_found, critical_count, high_count, medium_count, low_count, info_count,
       sandbox_status, sandbox_container_id, created_at, completed_at`

// Get by ID
func (r *AnalysisRepository) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	q := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1 LIMIT 1`
	var (
		a                          domain.Analysis
		status                     string
		logs, sar, ptr, steps      []byte
		summary, exploit, sbStatus sql.NullString
		sbContainer                sql.NullString
		completed                  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, string(id)).Scan(
		&a.ID, &a.UserID, &a.ProjectID, &a.RepositoryURL, &a.Branch, &status, &logs,
		&sar, &ptr, &summary, &steps, &exploit,
		&a.Counts.Total, &a.Counts.Critical, &a.Counts.High, &a.Counts.Medium, &a.Counts.Low, &a.Counts.Info,
		&sbStatus, &sbContainer, &a.CreatedAt, &completed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Status = domain.Status(status)
	a.Logs = domain.ParseLogs(logs)
	a.StaticAnalysisReport = rawOrNil(sar)
	a.PenetrationTestReport = rawOrNil(ptr)
	a.StepResults = rawOrNil(steps)
	a.ExecutiveSummary = summary.String
	a.ExploitSessionID = exploit.String
	a.SandboxStatus = domain.SandboxStatus(sbStatus.String)
	a.SandboxContainerID = sbContainer.String
	a.CreatedAt = a.CreatedAt.UTC()
	if completed.Valid {
		t := completed.Time.UTC()
		a.CompletedAt = &t
	}
	return &a, nil
}

// Update writes only the fields set on u. Counters are incremented in SQL
// and completed_at is kept once set.
func (r *AnalysisRepository) Update(ctx context.Context, id domain.AnalysisID, u domain.Update) error {
	var sets []string
	var args []any
	set := func(format string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(format, len(args)))
	}

	if u.Status != nil {
		set("status = $%d", string(*u.Status))
	}
	if u.Logs != nil {
		b, err := domain.MarshalLogs(u.Logs)
		if err != nil {
			return fmt.Errorf("encoding logs: %w", err)
		}
		set("logs = $%d", string(b))
	}
	if u.StaticAnalysisReport != nil {
		set("static_analysis_report = $%d", string(u.StaticAnalysisReport))
	}
	if u.PenetrationTestReport != nil {
		set("penetration_test_report = $%d", string(u.PenetrationTestReport))
	}
	if u.ExecutiveSummary != nil {
		set("executive_summary = $%d", *u.ExecutiveSummary)
	}
	if u.StepResults != nil {
		set("step_results = $%d", string(u.StepResults))
	}
	if u.ExploitSessionID != nil {
		set("exploit_session_id = $%d", *u.ExploitSessionID)
	}
	switch {
	case u.CountsDelta != nil:
		d := *u.CountsDelta
		set("vulnerabilities_found = vulnerabilities_found + $%d", d.Total)
		set("critical_count = critical_count + $%d", d.Critical)
		set("high_count = high_count + $%d", d.High)
		set("medium_count = medium_count + $%d", d.Medium)
		set("low_count = low_count + $%d", d.Low)
		set("info_count = info_count + $%d", d.Info)
	case u.Counts != nil:
		c := *u.Counts
		set("vulnerabilities_found = $%d", c.Total)
		set("critical_count = $%d", c.Critical)
		set("high_count = $%d", c.High)
		set("medium_count = $%d", c.Medium)
		set("low_count = $%d", c.Low)
		set("info_count = $%d", c.Info)
	}
	if u.SandboxStatus != nil {
		if len(u.SandboxStatusFrom) == 0 {
			set("sandbox_status = $%d", string(*u.SandboxStatus))
		} else {
			// guarded write, decided against the stored value
			marks := make([]string, len(u.SandboxStatusFrom))
			for i, from := range u.SandboxStatusFrom {
				args = append(args, string(from))
				marks[i] = fmt.Sprintf("$%d", len(args))
			}
			set("sandbox_status = CASE WHEN COALESCE(sandbox_status, '') IN ("+strings.Join(marks, ", ")+") THEN $%d ELSE sandbox_status END",
				string(*u.SandboxStatus))
		}
	}
	if u.SandboxContainerID != nil {
		set("sandbox_container_id = $%d", *u.SandboxContainerID)
	}
	if u.CompletedAt != nil {
		set("completed_at = COALESCE(completed_at, $%d)", u.CompletedAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, string(id))
	q := fmt.Sprintf("UPDATE analyses SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateWithinQuota takes a transaction-scoped advisory lock keyed on the
// user, so concurrent creators for one user queue behind each other while
// other users proceed.
func (r *AnalysisRepository) CreateWithinQuota(ctx context.Context, a *domain.Analysis, limits domain.QuotaLimits) (domain.QuotaCheck, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.QuotaCheck{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a.UserID); err != nil {
		return domain.QuotaCheck{}, fmt.Errorf("locking quota: %w", err)
	}

	created := a.CreatedAt.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	monthStart := time.Date(created.Year(), created.Month(), 1, 0, 0, 0, 0, time.UTC)

	var monthly, concurrent int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE user_id = $1 AND created_at >= $2`,
		a.UserID, monthStart).Scan(&monthly); err != nil {
		return domain.QuotaCheck{}, fmt.Errorf("counting monthly analyses: %w", err)
	}
	terminal := make([]string, 0, 4)
	for _, s := range domain.TerminalStatuses() {
		terminal = append(terminal, string(s))
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE user_id = $1 AND status <> ALL($2)`,
		a.UserID, pq.Array(terminal)).Scan(&concurrent); err != nil {
		return domain.QuotaCheck{}, fmt.Errorf("counting active analyses: %w", err)
	}

	if rej := domain.EvaluateQuota(limits, monthly, concurrent); rej != nil {
		return domain.QuotaCheck{Rejection: rej}, nil
	}

	logs, err := domain.MarshalLogs(a.Logs)
	if err != nil {
		return domain.QuotaCheck{}, fmt.Errorf("encoding logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO analyses (id, user_id, project_id, repository_url, branch, status, logs, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(a.ID), a.UserID, a.ProjectID, a.RepositoryURL, a.Branch, string(a.Status), string(logs), created); err != nil {
		return domain.QuotaCheck{}, fmt.Errorf("inserting analysis: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.QuotaCheck{}, err
	}

	out := a.Clone()
	out.CreatedAt = created
	return domain.QuotaCheck{Created: out}, nil
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
