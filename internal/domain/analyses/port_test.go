package analyses

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateQuota(t *testing.T) {
	limits := QuotaLimits{Monthly: 10, Concurrent: 2}

	assert.Nil(t, EvaluateQuota(limits, 9, 1))

	r := EvaluateQuota(limits, 10, 0)
	require.NotNil(t, r)
	assert.Equal(t, QuotaRejection{Reason: QuotaMonthly, Current: 10, Limit: 10}, *r)

	r = EvaluateQuota(limits, 3, 2)
	require.NotNil(t, r)
	assert.Equal(t, QuotaConcurrent, r.Reason)
	assert.Equal(t, "CONCURRENT_LIMIT: 2/2", r.String())

	// monthly wins when both are exhausted
	r = EvaluateQuota(limits, 10, 2)
	require.NotNil(t, r)
	assert.Equal(t, QuotaMonthly, r.Reason)

	assert.Nil(t, EvaluateQuota(QuotaLimits{Monthly: Unlimited, Concurrent: Unlimited}, 1000, 1000))
}

func TestUpdate_ApplyTo(t *testing.T) {
	done := t0.Add(time.Hour)
	a := &Analysis{Status: StatusPenetrationTest, Counts: SeverityCounts{High: 1, Total: 1}}

	st := StatusCompleted
	delta := SeverityCounts{Critical: 2, Total: 2}
	abs := SeverityCounts{Critical: 99}
	Update{Status: &st, CountsDelta: &delta, Counts: &abs, CompletedAt: &done}.ApplyTo(a)

	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, SeverityCounts{Critical: 2, High: 1, Total: 3}, a.Counts)
	require.NotNil(t, a.CompletedAt)
	assert.True(t, a.CompletedAt.Equal(done))

	later := done.Add(time.Hour)
	Update{CompletedAt: &later}.ApplyTo(a)
	assert.True(t, a.CompletedAt.Equal(done), "completed_at is written once")
}

func TestUpdate_IsEmpty(t *testing.T) {
	assert.True(t, Update{}.IsEmpty())
	s := "x"
	assert.False(t, Update{ExecutiveSummary: &s}.IsEmpty())
	assert.False(t, Update{Logs: []LogEntry{}}.IsEmpty())
	assert.False(t, Update{CountsDelta: &SeverityCounts{High: 1, Total: 1}}.IsEmpty())
}

func TestUpdate_GuardedSandboxStatus(t *testing.T) {
	running := SandboxRunning
	guarded := Update{SandboxStatus: &running, SandboxStatusFrom: []SandboxStatus{SandboxCreating}}

	a := &Analysis{SandboxStatus: SandboxCreating}
	guarded.ApplyTo(a)
	assert.Equal(t, SandboxRunning, a.SandboxStatus)

	// a webhook already settled the sandbox
	id := "env-1"
	guarded.SandboxContainerID = &id
	a = &Analysis{SandboxStatus: SandboxFailed}
	guarded.ApplyTo(a)
	assert.Equal(t, SandboxFailed, a.SandboxStatus)
	assert.Equal(t, "env-1", a.SandboxContainerID, "unguarded fields still apply")

	a = &Analysis{SandboxStatus: SandboxCompleted}
	Update{SandboxStatus: &running}.ApplyTo(a)
	assert.Equal(t, SandboxRunning, a.SandboxStatus)
}

func TestAnalysis_Clone(t *testing.T) {
	a := &Analysis{
		Logs:                 []LogEntry{NewLogEntry(t0, StatusPending, LogInfo, "q", "")},
		StaticAnalysisReport: []byte(`{"findings":[]}`),
		CompletedAt:          &t0,
	}
	c := a.Clone()
	c.Logs[0].Message = "changed"
	c.StaticAnalysisReport[0] = '['
	*c.CompletedAt = t0.Add(time.Hour)

	assert.Equal(t, "q", a.Logs[0].Message)
	assert.Equal(t, `{"findings":[]}`, string(a.StaticAnalysisReport))
	assert.True(t, a.CompletedAt.Equal(t0))
	assert.Nil(t, (*Analysis)(nil).Clone())
}
