// Package observability provides Prometheus metrics for the pipeline API.
//
// Metrics include HTTP request counters, webhook outcomes, outbound call
// attempts per dependency, breaker state, quota rejections and rate-limited
// requests. A nil *Metrics is valid and records nothing, so components can
// be built without metrics in tests.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "automaton"

// Metrics holds all collectors.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
	WebhooksTotal    *prometheus.CounterVec
	OutboundAttempts *prometheus.CounterVec
	BreakerOpen      *prometheus.GaugeVec
	AnalysesStarted  prometheus.Counter
	QuotaRejections  *prometheus.CounterVec
	RateLimitedTotal *prometheus.CounterVec
	SandboxRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "http", Name: "requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		WebhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "pipeline", Name: "webhooks_total",
			Help: "Worker callbacks by outcome (applied, noop, rejected_transition).",
		}, []string{"outcome"}),
		OutboundAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "outbound", Name: "attempts_total",
			Help: "Outbound call attempts by call name and outcome.",
		}, []string{"call", "outcome"}),
		BreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "outbound", Name: "breaker_open",
			Help: "1 when the named circuit breaker is open.",
		}, []string{"breaker"}),
		AnalysesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "pipeline", Name: "analyses_started_total",
			Help: "Analyses created after passing quota checks.",
		}),
		QuotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "pipeline", Name: "quota_rejections_total",
			Help: "Analysis starts refused by quota, by reason.",
		}, []string{"reason"}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "http", Name: "rate_limited_total",
			Help: "Requests refused by the rate limiter, by prefix.",
		}, []string{"prefix"}),
		SandboxRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "pipeline", Name: "sandbox_runs_total",
			Help: "Sandbox orchestration results by final sandbox status.",
		}, []string{"sandbox_status"}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestsInFlight, m.WebhooksTotal, m.OutboundAttempts,
		m.BreakerOpen, m.AnalysesStarted, m.QuotaRejections, m.RateLimitedTotal,
		m.SandboxRunsTotal,
	)
	return m
}

// ObserveAttempt implements resilience.Observer.
func (m *Metrics) ObserveAttempt(name, outcome string) {
	if m == nil {
		return
	}
	m.OutboundAttempts.WithLabelValues(name, outcome).Inc()
}

// ObserveBreaker implements resilience.Observer.
func (m *Metrics) ObserveBreaker(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerOpen.WithLabelValues(name).Set(v)
}

func (m *Metrics) ObserveRequest(method string, code int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Add(delta)
}

func (m *Metrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAnalysisStarted() {
	if m == nil {
		return
	}
	m.AnalysesStarted.Inc()
}

func (m *Metrics) ObserveQuotaRejection(reason string) {
	if m == nil {
		return
	}
	m.QuotaRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRateLimited(prefix string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(prefix).Inc()
}

func (m *Metrics) ObserveSandboxRun(status string) {
	if m == nil {
		return
	}
	m.SandboxRunsTotal.WithLabelValues(status).Inc()
}
