// Package sandbox sequences the two-phase dynamic-testing workflow for one
// analysis: build a sandbox environment, then point the scan worker's DAST
// run at it. It runs detached from the request that started the analysis;
// its only observable effects are the sandbox fields it writes on the
// record, its logs and the scan-error entries it saves.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bryanwahyu/automaton-pipeline/internal/application"
	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
	"github.com/bryanwahyu/automaton-pipeline/internal/domain/scanerrors"
	"github.com/bryanwahyu/automaton-pipeline/internal/observability"
	"github.com/bryanwahyu/automaton-pipeline/internal/resilience"
)

// Target describes what to build for one analysis.
type Target struct {
	AnalysisID        domain.AnalysisID
	UserID            string
	RepositoryURL     string
	Branch            string
	DockerfileContent string
	ComposeContent    string
}

// Orchestrator runs the sandbox workflow. Its callers and breaker are
// long-lived and owned by whoever builds it.
type Orchestrator struct {
	Repo    domain.Repository
	Plans   domain.PlanResolver
	Sandbox domain.SandboxClient
	Worker  domain.ScanWorker
	Errors  scanerrors.Repository

	// SandboxCall guards environment creation; its Breaker is also checked
	// before any status is written.
	SandboxCall *resilience.Caller
	// DynamicCall triggers DAST and carries no breaker.
	DynamicCall *resilience.Caller

	CallbackURL func(id domain.AnalysisID) string
	Clock       application.Clock
	Metrics     *observability.Metrics
	Logger      *slog.Logger

	wg sync.WaitGroup
}

// Launch starts Run in the background and returns immediately. The task
// is not tied to the caller's context and cannot be cancelled by it.
func (o *Orchestrator) Launch(t Target) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger().Error("sandbox orchestration panicked", "analysis_id", t.AnalysisID, "panic", r)
				// jangan biarkan sandbox nyangkut di CREATING
				_ = o.fail(context.Background(), t, fmt.Errorf("sandbox orchestration panicked: %v", r))
			}
		}()
		if err := o.Run(context.Background(), t); err != nil {
			o.logger().Error("sandbox orchestration failed", "analysis_id", t.AnalysisID, "err", err)
		}
	}()
}

// Wait blocks until every launched run has finished. Used on shutdown.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Run executes the workflow synchronously.
//
// An open sandbox breaker short-circuits to SKIPPED with no network call.
// A failed environment build ends in FAILED. A failed DAST trigger is
// logged but leaves the sandbox RUNNING, since the build itself succeeded.
func (o *Orchestrator) Run(ctx context.Context, t Target) error {
	log := o.logger().With("analysis_id", t.AnalysisID)

	if b := o.SandboxCall.Breaker; b != nil && !b.CanExecute() {
		log.Warn("sandbox service circuit open, skipping sandbox")
		o.Metrics.ObserveSandboxRun(string(domain.SandboxSkipped))
		return o.setSandboxStatus(ctx, t.AnalysisID, domain.SandboxSkipped)
	}

	if err := o.setSandboxStatus(ctx, t.AnalysisID, domain.SandboxCreating); err != nil {
		return err
	}

	limits, err := o.Plans.Resolve(ctx, t.UserID)
	if err != nil {
		return o.fail(ctx, t, fmt.Errorf("resolving plan limits: %w", err))
	}

	req := domain.SandboxRequest{
		AnalysisID:           t.AnalysisID,
		RepositoryURL:        t.RepositoryURL,
		Branch:               t.Branch,
		DockerfileContent:    t.DockerfileContent,
		ComposeContent:       t.ComposeContent,
		ContainerMemoryLimit: limits.ContainerMemoryLimit,
		ContainerCPULimit:    limits.ContainerCPULimit,
		ContainerPidsLimit:   limits.ContainerPidsLimit,
	}
	log.Info("creating sandbox environment", "plan", limits.Plan, "memory", limits.ContainerMemoryLimit,
		"cpu", limits.ContainerCPULimit, "pids", limits.ContainerPidsLimit)

	env, err := resilience.Call(ctx, o.SandboxCall, func(ctx context.Context) (domain.SandboxEnvironment, error) {
		return o.Sandbox.CreateEnvironment(ctx, req)
	})
	if err != nil {
		return o.fail(ctx, t, err)
	}

	// a webhook may have finished the analysis while the build ran; that
	// outcome wins over RUNNING
	running := domain.SandboxRunning
	containerID := env.EnvironmentID
	if err := o.Repo.Update(ctx, t.AnalysisID, domain.Update{
		SandboxStatus:      &running,
		SandboxStatusFrom:  []domain.SandboxStatus{domain.SandboxCreating},
		SandboxContainerID: &containerID,
	}); err != nil {
		return fmt.Errorf("recording sandbox %s: %w", containerID, err)
	}
	current, err := o.Repo.Get(ctx, t.AnalysisID)
	if err != nil {
		return fmt.Errorf("reading sandbox %s: %w", containerID, err)
	}
	if current.SandboxStatus != domain.SandboxRunning {
		log.Info("analysis settled during sandbox build, skipping dynamic scan",
			"environment_id", containerID, "sandbox_status", current.SandboxStatus, "status", current.Status)
		return nil
	}
	o.Metrics.ObserveSandboxRun(string(domain.SandboxRunning))
	log.Info("sandbox environment running", "environment_id", containerID)

	if env.TargetURL == nil || *env.TargetURL == "" {
		log.Info("sandbox exposed no target url, skipping dynamic scan")
		return nil
	}

	dreq := domain.DynamicScanRequest{
		AnalysisID:  t.AnalysisID,
		CallbackURL: o.CallbackURL(t.AnalysisID),
		TargetURL:   *env.TargetURL,
	}
	if env.NetworkName != nil {
		dreq.NetworkName = *env.NetworkName
	}
	_, err = resilience.Call(ctx, o.DynamicCall, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.Worker.TriggerDynamicScan(ctx, dreq)
	})
	if err != nil {
		log.Error("dynamic scan trigger failed, sandbox left running", "target_url", dreq.TargetURL, "err", err)
		o.saveError(ctx, t.AnalysisID, scanerrors.PhaseDAST, err, map[string]any{"target_url": dreq.TargetURL})
		return nil
	}
	log.Info("dynamic scan triggered", "target_url", dreq.TargetURL)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, t Target, cause error) error {
	o.Metrics.ObserveSandboxRun(string(domain.SandboxFailed))
	o.saveError(ctx, t.AnalysisID, scanerrors.PhaseSandbox, cause, map[string]any{
		"repository_url": t.RepositoryURL,
		"branch":         t.Branch,
		"circuit_open":   errors.Is(cause, resilience.ErrCircuitOpen),
	})
	// only a sandbox still in flight is marked failed
	if err := o.setSandboxStatus(ctx, t.AnalysisID, domain.SandboxFailed, domain.SandboxUnset, domain.SandboxCreating); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (o *Orchestrator) setSandboxStatus(ctx context.Context, id domain.AnalysisID, s domain.SandboxStatus, from ...domain.SandboxStatus) error {
	if err := o.Repo.Update(ctx, id, domain.Update{SandboxStatus: &s, SandboxStatusFrom: from}); err != nil {
		return fmt.Errorf("writing sandbox status %s: %w", s, err)
	}
	return nil
}

func (o *Orchestrator) saveError(ctx context.Context, id domain.AnalysisID, phase scanerrors.Phase, cause error, details map[string]any) {
	if o.Errors == nil {
		return
	}
	b, _ := json.Marshal(details)
	e := &scanerrors.ScanError{
		AnalysisID:  string(id),
		Phase:       phase,
		Message:     cause.Error(),
		DetailsJSON: string(b),
		CreatedAt:   o.now(),
	}
	if err := o.Errors.Save(ctx, e); err != nil {
		o.logger().Warn("saving scan error failed", "analysis_id", id, "phase", phase, "err", err)
	}
}

func (o *Orchestrator) now() time.Time {
	return application.Now(o.Clock)
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
