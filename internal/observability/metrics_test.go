package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Observers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveAttempt("sandbox", "timeout")
	m.ObserveAttempt("sandbox", "timeout")
	m.ObserveBreaker("sandbox", true)
	m.ObserveRequest("POST", 202)
	m.ObserveWebhook("applied")
	m.ObserveQuotaRejection("MONTHLY_LIMIT")
	m.ObserveRateLimited("webhook")
	m.ObserveAnalysisStarted()
	m.ObserveSandboxRun("RUNNING")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboundAttempts.WithLabelValues("sandbox", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerOpen.WithLabelValues("sandbox")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "202")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhooksTotal.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaRejections.WithLabelValues("MONTHLY_LIMIT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues("webhook")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SandboxRunsTotal.WithLabelValues("RUNNING")))

	m.ObserveBreaker("sandbox", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerOpen.WithLabelValues("sandbox")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt("x", "y")
		m.ObserveBreaker("x", true)
		m.ObserveRequest("GET", 200)
		m.InFlight(1)
		m.ObserveWebhook("noop")
		m.ObserveAnalysisStarted()
		m.ObserveQuotaRejection("x")
		m.ObserveRateLimited("x")
		m.ObserveSandboxRun("x")
	})
}
