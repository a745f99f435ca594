package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appanalyses "github.com/bryanwahyu/automaton-pipeline/internal/application/analyses"
	appsandbox "github.com/bryanwahyu/automaton-pipeline/internal/application/sandbox"
	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
	"github.com/bryanwahyu/automaton-pipeline/internal/domain/scanerrors"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/db/memory"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/plans"
	"github.com/bryanwahyu/automaton-pipeline/internal/middleware"
	"github.com/bryanwahyu/automaton-pipeline/internal/observability"
	"github.com/bryanwahyu/automaton-pipeline/internal/resilience"
)

const secret = "hook-secret"

type fakeWorker struct {
	mu     sync.Mutex
	static []domain.StaticScanRequest
	// delay stalls every static trigger
	delay time.Duration
}

func (f *fakeWorker) TriggerStaticAnalysis(ctx context.Context, req domain.StaticScanRequest) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.static = append(f.static, req)
	return nil
}

func (f *fakeWorker) TriggerDynamicScan(ctx context.Context, req domain.DynamicScanRequest) error {
	return nil
}

type fakeLauncher struct {
	mu      sync.Mutex
	targets []appsandbox.Target
}

func (f *fakeLauncher) Launch(t appsandbox.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, t)
}

type server struct {
	*httptest.Server
	repo     *memory.AnalysisRepo
	errs     *memory.ScanErrorRepo
	worker   *fakeWorker
	launcher *fakeLauncher
	breakers *resilience.Registry
}

func newServer(t *testing.T, startRule middleware.Rule) *server {
	t.Helper()
	return newServerWith(t, startRule, nil)
}

// newServerWith lets a test adjust the service and the http.Server before
// the listener starts.
func newServerWith(t *testing.T, startRule middleware.Rule, configure func(*appanalyses.Service, *http.Server)) *server {
	t.Helper()
	repo := memory.NewAnalysisRepo()
	errs := memory.NewScanErrorRepo()
	catalog, err := plans.NewCatalog([]domain.PlanLimits{
		{Plan: "free", MonthlyLimit: 10, ConcurrentLimit: 1},
		{Plan: "pro", MonthlyLimit: domain.Unlimited, ConcurrentLimit: domain.Unlimited},
	}, "free", plans.StaticSubscriptions{"admin": "pro", "bob": "pro"})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	breakers := resilience.NewRegistry()
	breakers.Register(resilience.NewCircuitBreaker("sandbox", resilience.BreakerConfig{FailureThreshold: 1}))

	s := &server{repo: repo, errs: errs, worker: &fakeWorker{}, launcher: &fakeLauncher{}, breakers: breakers}
	svc := &appanalyses.Service{
		Repo:        repo,
		Limits:      &appanalyses.LimitChecker{Plans: catalog, Repo: repo},
		Worker:      s.worker,
		StaticCall:  &resilience.Caller{Name: "static"},
		Sandbox:     s.launcher,
		Errors:      errs,
		CallbackURL: func(id domain.AnalysisID) string { return "https://api.test/v1/webhooks/analyses/" + string(id) },
		Metrics:     metrics,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	s.Server = httptest.NewUnstartedServer(NewRouter(Deps{
		Analyses:      svc,
		Errors:        errs,
		Breakers:      breakers,
		StartRule:     startRule,
		WebhookRule:   middleware.Rule{Prefix: "webhook", MaxRequests: 100, Window: time.Minute},
		APIKeys:       map[string]string{"alice": "key-alice", "bob": "key-bob", "admin": "key-admin"},
		Admins:        []string{"admin"},
		WebhookSecret: secret,
		Metrics:       metrics,
		Gatherer:      reg,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}))
	if configure != nil {
		configure(svc, s.Config)
	}
	s.Start()
	t.Cleanup(s.Close)
	return s
}

var openRule = middleware.Rule{Prefix: "analysis-start", MaxRequests: 100, Window: time.Minute}

func (s *server) do(t *testing.T, method, path, key string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return send(t, req)
}

func (s *server) webhook(t *testing.T, id string, body string, signed bool) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+"/v1/webhooks/analyses/"+id, strings.NewReader(body))
	require.NoError(t, err)
	if signed {
		req.Header.Set(middleware.SignatureHeader, "sha256="+middleware.Sign(secret, []byte(body)))
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func (s *server) start(t *testing.T, key string) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/v1/analyses", key, map[string]any{
		"project_id":     "shop",
		"repository_url": "https://github.com/acme/shop.git",
		"branch":         "main",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	return body["id"].(string)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newServer(t, openRule)

	resp, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, _ = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, s.URL+"/metrics", nil)
	mresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer mresp.Body.Close()
	raw, _ := io.ReadAll(mresp.Body)
	assert.Contains(t, string(raw), "automaton_http_requests_total")
}

func TestRouter_StartRequiresAPIKey(t *testing.T) {
	s := newServer(t, openRule)

	resp, _ := s.do(t, http.MethodPost, "/v1/analyses", "", map[string]any{"project_id": "p"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/v1/analyses", "wrong", map[string]any{"project_id": "p"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_StartAndRead(t *testing.T) {
	s := newServer(t, openRule)
	id := s.start(t, "key-alice")

	require.Len(t, s.worker.static, 1)
	assert.Equal(t, domain.AnalysisID(id), s.worker.static[0].AnalysisID)
	assert.Equal(t, "https://api.test/v1/webhooks/analyses/"+id, s.worker.static[0].CallbackURL)
	require.Len(t, s.launcher.targets, 1)
	assert.Equal(t, "alice", s.launcher.targets[0].UserID)

	resp, body := s.do(t, http.MethodGet, "/v1/analyses/"+id, "key-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDING", body["status"])

	// another user's record is hidden
	resp, _ = s.do(t, http.MethodGet, "/v1/analyses/"+id, "key-bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/v1/analyses/not-a-uuid", "key-alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_StartValidation(t *testing.T) {
	s := newServer(t, openRule)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"private repository host", map[string]any{"project_id": "p", "repository_url": "http://127.0.0.1/repo.git"}},
		{"bad branch", map[string]any{"project_id": "p", "repository_url": "https://github.com/a/b", "branch": "-x"}},
		{"nothing to build", map[string]any{"project_id": "p"}},
		{"missing project", map[string]any{"repository_url": "https://github.com/a/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, "/v1/analyses", "key-alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		})
	}
	assert.Equal(t, 0, s.repo.Len())
}

func TestRouter_StartQuotaRejection(t *testing.T) {
	s := newServer(t, openRule)
	s.start(t, "key-alice")

	resp, body := s.do(t, http.MethodPost, "/v1/analyses", "key-alice", map[string]any{
		"project_id": "shop", "repository_url": "https://github.com/acme/shop.git",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "CONCURRENT_LIMIT", body["error"])
	assert.EqualValues(t, 1, body["current"])
	assert.EqualValues(t, 1, body["limit"])
}

func TestRouter_StartRateLimited(t *testing.T) {
	s := newServer(t, middleware.Rule{Prefix: "analysis-start", MaxRequests: 1, Window: time.Minute})
	s.start(t, "key-bob")

	resp, body := s.do(t, http.MethodPost, "/v1/analyses", "key-bob", map[string]any{
		"project_id": "shop", "repository_url": "https://github.com/acme/shop.git",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// the limit is per user
	s.start(t, "key-alice")
}

func TestRouter_Webhook(t *testing.T) {
	s := newServer(t, openRule)
	id := s.start(t, "key-alice")

	resp, _ := s.webhook(t, id, `{"status":"CLONING"}`, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := s.webhook(t, id, `{"status":"CLONING","log_message":"cloning repo","critical_count":2}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CLONING", body["status"])
	assert.Equal(t, true, body["applied"])
	assert.Equal(t, true, body["status_changed"])

	// backwards move is rejected but still answered
	resp, body = s.webhook(t, id, `{"status":"PENDING"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["transition_rejected"])
	assert.Equal(t, "CLONING", body["status"])

	resp, _ = s.webhook(t, id, `[1,2]`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.webhook(t, "6f1c2a4e-0000-4000-8000-000000000000", `{"status":"CLONING"}`, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	a, err := s.repo.Get(context.Background(), domain.AnalysisID(id))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Counts.Critical)

	resp, body = s.do(t, http.MethodGet, "/v1/analyses/"+id+"/logs", "key-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	steps := body["steps"].([]any)
	require.Len(t, steps, 2)
	assert.Equal(t, "queued", steps[0].(map[string]any)["step"])
	assert.Equal(t, "repository clone", steps[1].(map[string]any)["step"])
}

func TestRouter_ScanErrors(t *testing.T) {
	s := newServer(t, openRule)
	id := s.start(t, "key-alice")
	require.NoError(t, s.errs.Save(context.Background(), &scanerrors.ScanError{
		AnalysisID: id, Phase: scanerrors.PhaseSandbox, Message: "build failed", CreatedAt: time.Now(),
	}))

	req, _ := http.NewRequest(http.MethodGet, s.URL+"/v1/analyses/"+id+"/errors", nil)
	req.Header.Set("Authorization", "Bearer key-alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []scanerrors.ScanError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, scanerrors.PhaseSandbox, list[0].Phase)

	r2, _ := s.do(t, http.MethodGet, "/v1/analyses/"+id+"/errors", "key-bob", nil)
	assert.Equal(t, http.StatusNotFound, r2.StatusCode)
}

func TestRouter_AdminBreakers(t *testing.T) {
	s := newServer(t, openRule)
	cb, _ := s.breakers.Get("sandbox")
	cb.RecordFailure()
	require.False(t, cb.CanExecute())

	resp, _ := s.do(t, http.MethodGet, "/v1/admin/breakers", "key-alice", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, s.URL+"/v1/admin/breakers", nil)
	req.Header.Set("Authorization", "Bearer key-admin")
	lresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer lresp.Body.Close()
	var states []resilience.BreakerState
	require.NoError(t, json.NewDecoder(lresp.Body).Decode(&states))
	require.Len(t, states, 1)
	assert.True(t, states[0].IsOpen)

	resp, _ = s.do(t, http.MethodPost, "/v1/admin/breakers/nope/reset", "key-admin", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/v1/admin/breakers/sandbox/reset", "key-admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["is_open"])
	assert.True(t, cb.CanExecute())
}

func TestStart_SlowTriggerOutlivesServerTimeouts(t *testing.T) {
	s := newServerWith(t, openRule, func(svc *appanalyses.Service, hs *http.Server) {
		hs.ReadTimeout = 100 * time.Millisecond
		hs.WriteTimeout = 100 * time.Millisecond
		svc.StaticCall = &resilience.Caller{Name: "static", Timeout: 2 * time.Second}
		svc.Worker.(*fakeWorker).delay = 400 * time.Millisecond
	})

	resp, body := s.do(t, http.MethodPost, "/v1/analyses", "key-alice", map[string]any{
		"project_id":     "p-1",
		"repository_url": "https://github.com/acme/shop.git",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, string(domain.StatusPending), body["status"])

	s.worker.mu.Lock()
	defer s.worker.mu.Unlock()
	assert.Len(t, s.worker.static, 1)
}
