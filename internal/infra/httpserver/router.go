package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appanalyses "github.com/bryanwahyu/automaton-pipeline/internal/application/analyses"
	domai "github.com/bryanwahyu/automaton-pipeline/internal/domain/ai"
	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
	"github.com/bryanwahyu/automaton-pipeline/internal/domain/scanerrors"
	"github.com/bryanwahyu/automaton-pipeline/internal/middleware"
	"github.com/bryanwahyu/automaton-pipeline/internal/observability"
	"github.com/bryanwahyu/automaton-pipeline/internal/resilience"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Analyses *appanalyses.Service
	Errors   scanerrors.Repository
	Breakers *resilience.Registry

	Limiter     middleware.Limiter
	StartRule   middleware.Rule
	WebhookRule middleware.Rule

	APIKeys       map[string]string
	Admins        []string
	WebhookSecret string
	CORSOrigins   []string

	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Health   map[string]middleware.HealthChecker
	Ready    func() bool
	Logger   *slog.Logger
}

type Router struct {
	svc      *appanalyses.Service
	scanErrs scanerrors.Repository
	breakers *resilience.Registry
	logger   *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{svc: d.Analyses, scanErrs: d.Errors, breakers: d.Breakers, logger: logger}
	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewFixedWindowLimiter()
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(logger))
	mux.Use(middleware.Metrics(d.Metrics))
	if len(d.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			MaxAge:         300,
		}))
	}

	mux.Get("/health", middleware.HealthHandler(d.Health))
	mux.Get("/ready", middleware.ReadinessHandler(d.Ready))
	mux.Get("/live", middleware.LivenessHandler)
	if d.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.Route("/v1", func(v1 chi.Router) {
		// worker callbacks: signed, not API-key authenticated
		v1.With(
			middleware.WebhookSignature(d.WebhookSecret),
			middleware.RateLimit(limiter, d.WebhookRule, analysisIDSubject, d.Metrics),
		).Post("/webhooks/analyses/{id}", r.wrap(r.handleWebhook))

		v1.Group(func(rt chi.Router) {
			rt.Use(middleware.APIKeyAuth(d.APIKeys))

			rt.With(middleware.RateLimit(limiter, d.StartRule, middleware.SubjectUser, d.Metrics)).
				Post("/analyses", r.wrap(r.handleStart))
			rt.Get("/analyses/{id}", r.wrap(r.handleGet))
			rt.Get("/analyses/{id}/logs", r.wrap(r.handleLogs))
			rt.Get("/analyses/{id}/errors", r.wrap(r.handleErrors))

			rt.Route("/admin", func(adm chi.Router) {
				adm.Use(requireAdmin(d.Admins))
				adm.Get("/breakers", r.wrap(r.handleBreakers))
				adm.Post("/breakers/{name}/reset", r.wrap(r.handleBreakerReset))
			})
		})
	})

	return mux
}

// httpError carries a status code to wrap.
type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(msg string) error { return &httpError{code: http.StatusBadRequest, msg: msg} }

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var he *httpError
		switch {
		case errors.As(err, &he):
			writeJSON(w, he.code, map[string]string{"error": he.msg})
		case errors.Is(err, domain.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		case errors.Is(err, appanalyses.ErrInvalidCommand):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, domai.ErrQuotaExceeded):
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "ai quota exceeded"})
		default:
			r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func analysisIDSubject(req *http.Request) string {
	return chi.URLParam(req, "id")
}

func requireAdmin(admins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(admins))
	for _, a := range admins {
		allowed[a] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !allowed[middleware.UserFromContext(req.Context())] {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func pathID(req *http.Request) (domain.AnalysisID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateAnalysisID(id); err != nil {
		return "", badRequest(err.Error())
	}
	return domain.AnalysisID(id), nil
}

// POST /v1/analyses
type startRequest struct {
	ProjectID         string `json:"project_id" validate:"required,max=64"`
	RepositoryURL     string `json:"repository_url" validate:"omitempty,url,max=2048"`
	Branch            string `json:"branch" validate:"branch"`
	DockerfileContent string `json:"dockerfile_content" validate:"buildfile"`
	ComposeContent    string `json:"compose_content" validate:"buildfile"`
}

func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) error {
	var body startRequest
	dec := json.NewDecoder(io.LimitReader(req.Body, 2*middleware.MaxBuildFileSize+64<<10))
	if err := dec.Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}

	body.ProjectID = middleware.SanitizeString(body.ProjectID)
	body.Branch = middleware.SanitizeString(body.Branch)
	if err := validateRequest(body); err != nil {
		return err
	}
	// SSRF guard on top of the url tag
	if body.RepositoryURL != "" {
		if err := middleware.ValidateRepositoryURL(body.RepositoryURL); err != nil {
			return badRequest(err.Error())
		}
	}

	r.extendDeadlines(w, req)

	res, err := r.svc.Start(req.Context(), appanalyses.StartCommand{
		UserID:            middleware.UserFromContext(req.Context()),
		ProjectID:         body.ProjectID,
		RepositoryURL:     body.RepositoryURL,
		Branch:            body.Branch,
		DockerfileContent: body.DockerfileContent,
		ComposeContent:    body.ComposeContent,
	})
	if err != nil {
		return err
	}
	if res.Rejection != nil {
		return writeJSON(w, http.StatusTooManyRequests, res.Rejection)
	}
	return writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     res.Analysis.ID,
		"status": res.Analysis.Status,
	})
}

// startDeadlineSlack covers the store writes around the static trigger.
const startDeadlineSlack = 10 * time.Second

// extendDeadlines lifts the server-wide read and write timeouts for the
// request while Start retries the static trigger, so the final answer is
// not written to a dead connection. An expired read deadline would also
// cancel the request context.
func (r *Router) extendDeadlines(w http.ResponseWriter, req *http.Request) {
	var deadline time.Time // zero clears the deadline
	if budget := r.svc.StartBudget(); budget > 0 {
		deadline = time.Now().Add(budget + startDeadlineSlack)
	}
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(deadline); err != nil {
		r.logger.Debug("cannot extend write deadline", "path", req.URL.Path, "err", err)
	}
	if err := rc.SetReadDeadline(deadline); err != nil {
		r.logger.Debug("cannot extend read deadline", "path", req.URL.Path, "err", err)
	}
}

// GET /v1/analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	a, err := r.svc.Get(req.Context(), middleware.UserFromContext(req.Context()), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, a)
}

// GET /v1/analyses/{id}/logs
func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	groups, err := r.svc.Logs(req.Context(), middleware.UserFromContext(req.Context()), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"analysis_id": id, "steps": groups})
}

// GET /v1/analyses/{id}/errors?limit=20
func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) error {
	if r.scanErrs == nil {
		return &httpError{code: http.StatusNotImplemented, msg: "scan errors are not recorded"}
	}
	id, err := pathID(req)
	if err != nil {
		return err
	}
	// ownership check
	if _, err := r.svc.Get(req.Context(), middleware.UserFromContext(req.Context()), id); err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.scanErrs.ListByAnalysis(req.Context(), string(id), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// POST /v1/webhooks/analyses/{id}
func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return badRequest("unreadable body")
	}
	p, err := domain.ParseWebhookPayload(data)
	if err != nil {
		return badRequest(err.Error())
	}

	res, err := r.svc.HandleWebhook(req.Context(), id, p)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"id":                  id,
		"status":              res.Analysis.Status,
		"applied":             res.Applied,
		"status_changed":      res.StatusChanged,
		"transition_rejected": res.TransitionRejected,
	})
}

// GET /v1/admin/breakers
func (r *Router) handleBreakers(w http.ResponseWriter, req *http.Request) error {
	if r.breakers == nil {
		return writeJSON(w, http.StatusOK, []resilience.BreakerState{})
	}
	return writeJSON(w, http.StatusOK, r.breakers.Snapshots())
}

// POST /v1/admin/breakers/{name}/reset
func (r *Router) handleBreakerReset(w http.ResponseWriter, req *http.Request) error {
	name := chi.URLParam(req, "name")
	if r.breakers == nil {
		return domain.ErrNotFound
	}
	if err := r.breakers.Reset(name); err != nil {
		return &httpError{code: http.StatusNotFound, msg: err.Error()}
	}
	cb, _ := r.breakers.Get(name)
	r.logger.Info("circuit breaker reset", "breaker", name, "user", middleware.UserFromContext(req.Context()))
	return writeJSON(w, http.StatusOK, cb.Snapshot())
}
