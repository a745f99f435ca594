package prompt

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/bryanwahyu/automaton-pipeline/internal/domain/ai"
)

func TestUserPrompt(t *testing.T) {
	p := UserPrompt(ai.SummaryInput{
		AnalysisID:           "a-1",
		Status:               "COMPLETED",
		Critical:             1,
		High:                 2,
		Total:                3,
		StaticAnalysisReport: json.RawMessage(`{"findings":[{"title":"sqli"}]}`),
	})

	assert.Contains(t, p, "Analysis a-1 finished with status COMPLETED.")
	assert.Contains(t, p, "critical=1 high=2 medium=0 low=0 info=0 total=3")
	assert.Contains(t, p, `{"findings":[{"title":"sqli"}]}`)
	assert.Contains(t, p, "Penetration test report:\n(not available)")
	assert.NotContains(t, p, "(truncated)")
}

func TestUserPrompt_TruncatesLargeReports(t *testing.T) {
	big := `"` + strings.Repeat("é", MaxReportBytes) + `"`
	p := UserPrompt(ai.SummaryInput{PenetrationTestReport: json.RawMessage(big)})

	assert.Contains(t, p, "(truncated)")
	assert.Less(t, len(p), MaxReportBytes+1024)
	assert.True(t, utf8.ValidString(p))
}

func TestTruncate(t *testing.T) {
	s, cut := truncate("hello", 10)
	assert.Equal(t, "hello", s)
	assert.False(t, cut)

	s, cut = truncate("héllo", 2)
	assert.Equal(t, "h", s)
	assert.True(t, cut)
}
