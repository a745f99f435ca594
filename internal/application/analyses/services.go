package analyses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/automaton-pipeline/internal/application"
	appsandbox "github.com/bryanwahyu/automaton-pipeline/internal/application/sandbox"
	"github.com/bryanwahyu/automaton-pipeline/internal/domain/ai"
	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
	"github.com/bryanwahyu/automaton-pipeline/internal/domain/scanerrors"
	"github.com/bryanwahyu/automaton-pipeline/internal/observability"
	"github.com/bryanwahyu/automaton-pipeline/internal/resilience"
)

// ErrInvalidCommand is returned for start requests missing required input.
var ErrInvalidCommand = errors.New("invalid analysis command")

// SandboxLauncher starts sandbox orchestration without waiting for it.
type SandboxLauncher interface {
	Launch(t appsandbox.Target)
}

// Service implements use-cases untuk Analysis.
// Service is safe for concurrent use; callbacks for one analysis are
// processed one at a time.
type Service struct {
	Repo       domain.Repository
	Limits     *LimitChecker
	Worker     domain.ScanWorker
	StaticCall *resilience.Caller
	Sandbox    SandboxLauncher

	// Optional collaborators.
	Archive    domain.ReportArchive
	Summarizer ai.Summarizer
	Errors     scanerrors.Repository

	CallbackURL func(id domain.AnalysisID) string
	Clock       application.Clock
	Metrics     *observability.Metrics
	Logger      *slog.Logger

	locks keyedMutex
	bg    sync.WaitGroup
}

//
// ==== USE CASES ====
//

// StartCommand untuk trigger analysis
type StartCommand struct {
	UserID            string
	ProjectID         string
	RepositoryURL     string
	Branch            string
	DockerfileContent string
	ComposeContent    string
}

// StartResult carries either the created record or the quota rejection.
type StartResult struct {
	Analysis  *domain.Analysis       `json:"analysis,omitempty"`
	Rejection *domain.QuotaRejection `json:"rejection,omitempty"`
}

// Start creates a PENDING analysis within the user's quota, triggers static
// analysis on the scan worker and launches sandbox orchestration in the
// background. If the static-analysis trigger fails the record is moved to
// FAILED and no sandbox is launched.
func (s *Service) Start(ctx context.Context, cmd StartCommand) (StartResult, error) {
	if strings.TrimSpace(cmd.UserID) == "" || strings.TrimSpace(cmd.ProjectID) == "" {
		return StartResult{}, fmt.Errorf("%w: user and project are required", ErrInvalidCommand)
	}
	if cmd.RepositoryURL == "" && cmd.DockerfileContent == "" && cmd.ComposeContent == "" {
		return StartResult{}, fmt.Errorf("%w: repository url or build file content is required", ErrInvalidCommand)
	}

	now := s.now()
	a := &domain.Analysis{
		ID:            domain.AnalysisID(uuid.New().String()),
		UserID:        cmd.UserID,
		ProjectID:     cmd.ProjectID,
		RepositoryURL: cmd.RepositoryURL,
		Branch:        cmd.Branch,
		Status:        domain.StatusPending,
		Logs:          []domain.LogEntry{domain.NewLogEntry(now, domain.StatusPending, domain.LogInfo, "analysis queued", "")},
		CreatedAt:     now.UTC(),
	}

	check, err := s.Limits.CheckAndCreate(ctx, a)
	if err != nil {
		return StartResult{}, err
	}
	if check.Rejection != nil {
		s.Metrics.ObserveQuotaRejection(string(check.Rejection.Reason))
		s.logger().Info("analysis refused by quota", "user_id", cmd.UserID, "reason", check.Rejection.Reason,
			"current", check.Rejection.Current, "limit", check.Rejection.Limit)
		return StartResult{Rejection: check.Rejection}, nil
	}
	created := check.Created
	s.Metrics.ObserveAnalysisStarted()
	log := s.logger().With("analysis_id", created.ID)

	if cmd.RepositoryURL != "" {
		req := domain.StaticScanRequest{
			AnalysisID:    created.ID,
			CallbackURL:   s.CallbackURL(created.ID),
			RepositoryURL: cmd.RepositoryURL,
			Branch:        cmd.Branch,
		}
		_, err := resilience.Call(ctx, s.StaticCall, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.Worker.TriggerStaticAnalysis(ctx, req)
		})
		if err != nil {
			log.Error("static analysis trigger failed", "err", err)
			s.saveError(ctx, created.ID, scanerrors.PhaseSAST, err)
			failed := domain.StatusFailed
			msg := "static analysis trigger failed: " + err.Error()
			res, aerr := s.HandleWebhook(ctx, created.ID, domain.WebhookPayload{Status: &failed, Error: &msg})
			if aerr != nil {
				return StartResult{Analysis: created}, fmt.Errorf("marking analysis failed: %w", aerr)
			}
			return StartResult{Analysis: res.Analysis}, nil
		}
	}

	s.Sandbox.Launch(appsandbox.Target{
		AnalysisID:        created.ID,
		UserID:            cmd.UserID,
		RepositoryURL:     cmd.RepositoryURL,
		Branch:            cmd.Branch,
		DockerfileContent: cmd.DockerfileContent,
		ComposeContent:    cmd.ComposeContent,
	})
	log.Info("analysis started", "user_id", cmd.UserID, "project_id", cmd.ProjectID)
	return StartResult{Analysis: created}, nil
}

// WebhookResult summarizes what one callback did to the record.
type WebhookResult struct {
	Analysis           *domain.Analysis `json:"analysis"`
	Applied            bool             `json:"applied"`
	StatusChanged      bool             `json:"status_changed"`
	TransitionRejected bool             `json:"transition_rejected"`
}

// Webhook outcomes reported to metrics.
const (
	OutcomeApplied            = "applied"
	OutcomeNoop               = "noop"
	OutcomeRejectedTransition = "rejected_transition"
)

// HandleWebhook reads the record, reduces the payload into it and writes
// the resulting patch back. Calls for the same analysis are serialized.
func (s *Service) HandleWebhook(ctx context.Context, id domain.AnalysisID, p domain.WebhookPayload) (WebhookResult, error) {
	unlock := s.locks.Lock(string(id))
	defer unlock()

	current, err := s.Repo.Get(ctx, id)
	if err != nil {
		return WebhookResult{}, err
	}

	u := Reduce(current, p, s.now())
	res := WebhookResult{
		StatusChanged:      u.Status != nil,
		TransitionRejected: p.Status != nil && *p.Status != current.Status && u.Status == nil,
	}

	next := current.Clone()
	if !u.IsEmpty() {
		if err := s.Repo.Update(ctx, id, u); err != nil {
			return WebhookResult{}, fmt.Errorf("applying webhook to %s: %w", id, err)
		}
		u.ApplyTo(next)
		res.Applied = true
	}
	res.Analysis = next

	switch {
	case res.TransitionRejected:
		s.Metrics.ObserveWebhook(OutcomeRejectedTransition)
		s.logger().Warn("rejected status transition", "analysis_id", id, "from", current.Status, "to", *p.Status)
	case res.Applied:
		s.Metrics.ObserveWebhook(OutcomeApplied)
	default:
		s.Metrics.ObserveWebhook(OutcomeNoop)
	}

	s.archiveReports(id, u)
	if res.StatusChanged && next.ExecutiveSummary == "" &&
		(next.Status == domain.StatusCompleted || next.Status == domain.StatusCompletedWithErrors) {
		s.summarize(next)
	}
	return res, nil
}

// Get ambil 1 analysis milik user. Records of other users are reported as
// not found.
func (s *Service) Get(ctx context.Context, userID string, id domain.AnalysisID) (*domain.Analysis, error) {
	a, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

// Logs returns the record's log grouped by step.
func (s *Service) Logs(ctx context.Context, userID string, id domain.AnalysisID) ([]domain.LogGroup, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return domain.GroupLogsByStep(a.Logs), nil
}

// StartBudget is how long Start may block on the static trigger in the
// worst case. Zero means unbounded.
func (s *Service) StartBudget() time.Duration {
	return s.StaticCall.Budget()
}

// Wait blocks until background archive and summary tasks finish.
func (s *Service) Wait() { s.bg.Wait() }

func (s *Service) archiveReports(id domain.AnalysisID, u domain.Update) {
	if s.Archive == nil {
		return
	}
	reports := map[string][]byte{}
	if u.StaticAnalysisReport != nil {
		reports["static-analysis"] = u.StaticAnalysisReport
	}
	if u.PenetrationTestReport != nil {
		reports["penetration-test"] = u.PenetrationTestReport
	}
	for kind, body := range reports {
		s.bg.Add(1)
		go func(kind string, body []byte) {
			defer s.bg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			url, err := s.Archive.PutReport(ctx, id, kind, body)
			if err != nil {
				s.logger().Warn("report archive failed", "analysis_id", id, "kind", kind, "err", err)
				return
			}
			s.logger().Info("report archived", "analysis_id", id, "kind", kind, "url", url)
		}(kind, body)
	}
}

func (s *Service) summarize(a *domain.Analysis) {
	if s.Summarizer == nil {
		return
	}
	in := ai.SummaryInput{
		AnalysisID:            string(a.ID),
		Status:                string(a.Status),
		Critical:              a.Counts.Critical,
		High:                  a.Counts.High,
		Medium:                a.Counts.Medium,
		Low:                   a.Counts.Low,
		Info:                  a.Counts.Info,
		Total:                 a.Counts.Total,
		StaticAnalysisReport:  a.StaticAnalysisReport,
		PenetrationTestReport: a.PenetrationTestReport,
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		log := s.logger().With("analysis_id", a.ID)

		text, err := s.Summarizer.Summarize(ctx, in)
		if err != nil {
			log.Warn("executive summary generation failed", "err", err)
			return
		}

		unlock := s.locks.Lock(string(a.ID))
		defer unlock()
		cur, err := s.Repo.Get(ctx, a.ID)
		if err != nil {
			log.Warn("reloading analysis for summary failed", "err", err)
			return
		}
		if cur.ExecutiveSummary != "" {
			return
		}
		if err := s.Repo.Update(ctx, a.ID, domain.Update{ExecutiveSummary: &text}); err != nil {
			log.Warn("saving executive summary failed", "err", err)
		}
	}()
}

func (s *Service) saveError(ctx context.Context, id domain.AnalysisID, phase scanerrors.Phase, cause error) {
	if s.Errors == nil {
		return
	}
	e := &scanerrors.ScanError{AnalysisID: string(id), Phase: phase, Message: cause.Error(), CreatedAt: s.now()}
	if err := s.Errors.Save(ctx, e); err != nil {
		s.logger().Warn("saving scan error failed", "analysis_id", id, "err", err)
	}
}

func (s *Service) now() time.Time {
	return application.Now(s.Clock)
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
