package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanwahyu/automaton-pipeline/internal/domain/ai"
)

// MaxReportBytes bounds how much of each raw report goes into the prompt.
const MaxReportBytes = 16 << 10

// SystemPrompt sets the tone and format of the executive summary.
func SystemPrompt() string {
	return `You are a senior application security analyst writing for engineering leadership.
Write a short executive summary (at most 5 short paragraphs, plain text, no markdown headings) of a security analysis.

Requirements:
- Start with the overall risk level in one sentence.
- Mention the number of findings per severity exactly as given; do not invent counts.
- Name the most important issues from the reports, if any are present.
- End with two or three concrete next steps.
- If a report is missing or truncated, say so briefly instead of guessing.`
}

// UserPrompt renders the analysis facts and trimmed raw reports.
func UserPrompt(in ai.SummaryInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis %s finished with status %s.\n", in.AnalysisID, in.Status)
	fmt.Fprintf(&b, "Findings: critical=%d high=%d medium=%d low=%d info=%d total=%d\n",
		in.Critical, in.High, in.Medium, in.Low, in.Info, in.Total)
	writeReport(&b, "Static analysis report", in.StaticAnalysisReport)
	writeReport(&b, "Penetration test report", in.PenetrationTestReport)
	return b.String()
}

func writeReport(b *strings.Builder, title string, raw json.RawMessage) {
	b.WriteString("\n")
	b.WriteString(title)
	b.WriteString(":\n")
	if len(raw) == 0 || string(raw) == "null" {
		b.WriteString("(not available)\n")
		return
	}
	s, cut := truncate(string(raw), MaxReportBytes)
	b.WriteString(s)
	if cut {
		b.WriteString("\n(truncated)")
	}
	b.WriteString("\n")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n], true
}

func utf8Start(c byte) bool { return c&0xC0 != 0x80 }
