package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/automaton-pipeline/internal/application"
	appanalyses "github.com/bryanwahyu/automaton-pipeline/internal/application/analyses"
	appsandbox "github.com/bryanwahyu/automaton-pipeline/internal/application/sandbox"
	"github.com/bryanwahyu/automaton-pipeline/internal/config"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/ai/openai"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/httpserver"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/plans"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/sandbox"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/scanworker"
	minioStore "github.com/bryanwahyu/automaton-pipeline/internal/infra/storage"
	"github.com/bryanwahyu/automaton-pipeline/internal/middleware"
	"github.com/bryanwahyu/automaton-pipeline/internal/observability"
	"github.com/bryanwahyu/automaton-pipeline/internal/resilience"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// secrets from a local .env, never overriding the real environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	planLimits, err := cfg.PlanLimits()
	if err != nil {
		return err
	}
	catalog, err := plans.NewCatalog(planLimits, cfg.Plans.Default, store.subs)
	if err != nil {
		return fmt.Errorf("plan catalog: %w", err)
	}

	// breakers, one per downstream worker
	breakers := resilience.NewRegistry()
	sandboxBreaker := breakers.Register(newBreaker("sandbox", cfg.Sandbox, metrics))
	workerBreaker := breakers.Register(newBreaker("scan-worker", cfg.ScanWorker, metrics))

	sandboxClient := sandbox.NewClient(cfg.Sandbox.BaseURL, cfg.Sandbox.APIKey)
	workerClient := scanworker.NewClient(cfg.ScanWorker.BaseURL, cfg.ScanWorker.APIKey)

	orchestrator := &appsandbox.Orchestrator{
		Repo:        store.analyses,
		Plans:       catalog,
		Sandbox:     sandboxClient,
		Worker:      workerClient,
		Errors:      store.errors,
		SandboxCall: newCaller("sandbox.create", cfg.Sandbox, sandboxBreaker, metrics, logger),
		DynamicCall: newCaller("scan-worker.dynamic", cfg.ScanWorker, nil, metrics, logger),
		CallbackURL: cfg.CallbackURL,
		Clock:       application.SystemClock{},
		Metrics:     metrics,
		Logger:      logger.With("component", "sandbox"),
	}

	svc := &appanalyses.Service{
		Repo:        store.analyses,
		Limits:      &appanalyses.LimitChecker{Plans: catalog, Repo: store.analyses},
		Worker:      workerClient,
		StaticCall:  newCaller("scan-worker.static", cfg.ScanWorker, workerBreaker, metrics, logger),
		Sandbox:     orchestrator,
		Errors:      store.errors,
		CallbackURL: cfg.CallbackURL,
		Clock:       application.SystemClock{},
		Metrics:     metrics,
		Logger:      logger.With("component", "analyses"),
	}

	health := map[string]middleware.HealthChecker{}
	if store.db != nil {
		health["database"] = &middleware.DatabaseHealthChecker{DB: store.db}
	}

	// init minio (optional)
	if cfg.Minio.Endpoint != "" {
		archive, err := minioStore.New(ctx, minioStore.Options{
			Endpoint:  cfg.Minio.Endpoint,
			Region:    cfg.Minio.Region,
			Bucket:    cfg.Minio.BucketName,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("minio init: %w", err)
		}
		svc.Archive = archive
		health["object_storage"] = archive
	}
	if cfg.OpenAI.APIKey != "" {
		svc.Summarizer = openai.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	}

	var ready atomic.Bool
	ready.Store(true)

	handler := httpserver.NewRouter(httpserver.Deps{
		Analyses:      svc,
		Errors:        store.errors,
		Breakers:      breakers,
		Limiter:       middleware.NewFixedWindowLimiter(),
		StartRule:     rule("analysis-start", cfg.RateLimits.AnalysisStart),
		WebhookRule:   rule("webhook", cfg.RateLimits.Webhook),
		APIKeys:       cfg.Auth.APIKeys,
		Admins:        cfg.Auth.Admins,
		WebhookSecret: cfg.Auth.WebhookSecret,
		CORSOrigins:   cfg.Server.CORSOrigins,
		Metrics:       metrics,
		Gatherer:      reg,
		Health:        health,
		Ready:         ready.Load,
		Logger:        logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		ready.Store(false)

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("shutdown error", "err", err)
		}

		// tunggu background work (sandbox runs, archive, summary)
		done := make(chan struct{})
		go func() {
			orchestrator.Wait()
			svc.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-sctx.Done():
			logger.Warn("background work still running at shutdown deadline")
		}
		return nil
	})
	return g.Wait()
}

func newBreaker(name string, r config.Remote, m *observability.Metrics) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(name, resilience.BreakerConfig{
		FailureThreshold: r.Breaker.FailureThreshold,
		ResetTimeout:     r.Breaker.Cooldown,
	}, resilience.WithBreakerObserver(m))
}

func newCaller(name string, r config.Remote, gate resilience.Gate, m *observability.Metrics, logger *slog.Logger) *resilience.Caller {
	return &resilience.Caller{
		Name:        name,
		Timeout:     r.Timeout,
		MaxRetries:  r.MaxRetries,
		RetryDelays: r.RetryDelays,
		Breaker:     gate,
		Observer:    m,
		Logger:      logger,
	}
}

func rule(prefix string, r config.RateLimit) middleware.Rule {
	return middleware.Rule{Prefix: prefix, MaxRequests: r.MaxRequests, Window: r.Window}
}
