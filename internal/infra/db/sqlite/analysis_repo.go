package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

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

func (r *AnalysisRepository) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	q := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = ? LIMIT 1`
	var (
		a                          domain.Analysis
		status, created            string
		logs, sar, ptr, steps      []byte
		summary, exploit, sbStatus sql.NullString
		sbContainer, completed     sql.NullString
	)
	err := r.db.QueryRowContext(ctx, q, string(id)).Scan(
		&a.ID, &a.UserID, &a.ProjectID, &a.RepositoryURL, &a.Branch, &status, &logs,
		&sar, &ptr, &summary, &steps, &exploit,
		&a.Counts.Total, &a.Counts.Critical, &a.Counts.High, &a.Counts.Medium, &a.Counts.Low, &a.Counts.Info,
		&sbStatus, &sbContainer, &created, &completed,
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
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		a.CompletedAt = &t
	}
	return &a, nil
}

// Update writes only the fields set on u; see the MySQL adapter for the
// increment and completed_at rules, which are identical here.
func (r *AnalysisRepository) Update(ctx context.Context, id domain.AnalysisID, u domain.Update) error {
	var sets []string
	var args []any
	set := func(expr string, v any) {
		sets = append(sets, expr)
		args = append(args, v)
	}

	if u.Status != nil {
		set("status = ?", string(*u.Status))
	}
	if u.Logs != nil {
		b, err := domain.MarshalLogs(u.Logs)
		if err != nil {
			return fmt.Errorf("encoding logs: %w", err)
		}
		set("logs = ?", string(b))
	}
	if u.StaticAnalysisReport != nil {
		set("static_analysis_report = ?", string(u.StaticAnalysisReport))
	}
	if u.PenetrationTestReport != nil {
		set("penetration_test_report = ?", string(u.PenetrationTestReport))
	}
	if u.ExecutiveSummary != nil {
		set("executive_summary = ?", *u.ExecutiveSummary)
	}
	if u.StepResults != nil {
		set("step_results = ?", string(u.StepResults))
	}
	if u.ExploitSessionID != nil {
		set("exploit_session_id = ?", *u.ExploitSessionID)
	}
	switch {
	case u.CountsDelta != nil:
		d := *u.CountsDelta
		set("vulnerabilities_found = vulnerabilities_found + ?", d.Total)
		set("critical_count = critical_count + ?", d.Critical)
		set("high_count = high_count + ?", d.High)
		set("medium_count = medium_count + ?", d.Medium)
		set("low_count = low_count + ?", d.Low)
		set("info_count = info_count + ?", d.Info)
	case u.Counts != nil:
		c := *u.Counts
		set("vulnerabilities_found = ?", c.Total)
		set("critical_count = ?", c.Critical)
		set("high_count = ?", c.High)
		set("medium_count = ?", c.Medium)
		set("low_count = ?", c.Low)
		set("info_count = ?", c.Info)
	}
	if u.SandboxStatus != nil {
		if len(u.SandboxStatusFrom) == 0 {
			set("sandbox_status = ?", string(*u.SandboxStatus))
		} else {
			// guarded write, decided against the stored value
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(u.SandboxStatusFrom)), ", ")
			sets = append(sets, "sandbox_status = CASE WHEN COALESCE(sandbox_status, '') IN ("+marks+") THEN ? ELSE sandbox_status END")
			for _, from := range u.SandboxStatusFrom {
				args = append(args, string(from))
			}
			args = append(args, string(*u.SandboxStatus))
		}
	}
	if u.SandboxContainerID != nil {
		set("sandbox_container_id = ?", *u.SandboxContainerID)
	}
	if u.CompletedAt != nil {
		set("completed_at = COALESCE(completed_at, ?)", formatTime(*u.CompletedAt))
	}
	if len(sets) == 0 {
		return nil
	}

	q := "UPDATE analyses SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, string(id))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateWithinQuota counts and inserts inside one transaction. The pool
// has a single connection, so no other statement can run in between.
func (r *AnalysisRepository) CreateWithinQuota(ctx context.Context, a *domain.Analysis, limits domain.QuotaLimits) (domain.QuotaCheck, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.QuotaCheck{}, err
	}
	defer func() { _ = tx.Rollback() }()

	created := a.CreatedAt.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	monthStart := time.Date(created.Year(), created.Month(), 1, 0, 0, 0, 0, time.UTC)

	var monthly, concurrent int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE user_id = ? AND created_at >= ?`,
		a.UserID, formatTime(monthStart)).Scan(&monthly); err != nil {
		return domain.QuotaCheck{}, fmt.Errorf("counting monthly analyses: %w", err)
	}
	terminal := domain.TerminalStatuses()
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE user_id = ? AND status NOT IN (?, ?, ?, ?)`,
		a.UserID, string(terminal[0]), string(terminal[1]), string(terminal[2]), string(terminal[3])).Scan(&concurrent); err != nil {
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), a.UserID, a.ProjectID, a.RepositoryURL, a.Branch, string(a.Status), string(logs), formatTime(created)); err != nil {
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
