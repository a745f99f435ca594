package analyses

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhookPayload_Fields(t *testing.T) {
	body := `{
		"status": "STATIC_ANALYSIS",
		"static_analysis_report": {"findings": [1, 2]},
		"step_results": [{"step": "clone", "ok": true}],
		"executive_summary": "looks bad",
		"exploit_session_id": "sess-1",
		"vulnerabilities_found": 3,
		"critical_count": 1,
		"high_count": 2,
		"log_message": "semgrep done",
		"log_level": "warning",
		"raw_output": "exit 0",
		"error": "partial",
		"extra": {"ignored": true}
	}`
	p, err := ParseWebhookPayload([]byte(body))
	require.NoError(t, err)

	require.NotNil(t, p.Status)
	assert.Equal(t, StatusStaticAnalysis, *p.Status)
	assert.JSONEq(t, `{"findings":[1,2]}`, string(p.StaticAnalysisReport))
	assert.Nil(t, p.PenetrationTestReport)
	assert.JSONEq(t, `[{"step":"clone","ok":true}]`, string(p.StepResults))
	assert.Equal(t, "looks bad", *p.ExecutiveSummary)
	assert.Equal(t, "sess-1", *p.ExploitSessionID)
	assert.Equal(t, "semgrep done", *p.LogMessage)
	assert.Equal(t, LogWarn, p.LogLevel)
	assert.Equal(t, "exit 0", *p.RawOutput)
	assert.Equal(t, "partial", *p.Error)

	d, ok := p.CountsDelta()
	require.True(t, ok)
	assert.Equal(t, SeverityCounts{Total: 3, Critical: 1, High: 2}, d)
}

func TestParseWebhookPayload_DropsBadTypes(t *testing.T) {
	body := `{
		"status": 5,
		"critical_count": "3",
		"high_count": -1,
		"medium_count": 1.5,
		"low_count": 1e12,
		"info_count": null,
		"executive_summary": {"x": 1},
		"static_analysis_report": null,
		"error": "",
		"log_message": ""
	}`
	p, err := ParseWebhookPayload([]byte(body))
	require.NoError(t, err)
	assert.Nil(t, p.Status)
	assert.Nil(t, p.CriticalCount)
	assert.Nil(t, p.HighCount)
	assert.Nil(t, p.MediumCount)
	assert.Nil(t, p.LowCount)
	assert.Nil(t, p.InfoCount)
	assert.Nil(t, p.ExecutiveSummary)
	assert.Nil(t, p.StaticAnalysisReport)
	assert.Nil(t, p.Error)
	assert.Nil(t, p.LogMessage)
	assert.Equal(t, LogInfo, p.LogLevel)

	_, ok := p.CountsDelta()
	assert.False(t, ok)
}

func TestParseWebhookPayload_NotObject(t *testing.T) {
	for _, body := range []string{"", "[]", `"COMPLETED"`, "null", "{broken"} {
		_, err := ParseWebhookPayload([]byte(body))
		assert.ErrorIs(t, err, ErrPayloadNotObject, body)
	}
}

func TestParseWebhookPayload_StringReportKept(t *testing.T) {
	p, err := ParseWebhookPayload([]byte(`{"penetration_test_report": "skipped"}`))
	require.NoError(t, err)
	assert.Equal(t, `"skipped"`, string(p.PenetrationTestReport))
}
