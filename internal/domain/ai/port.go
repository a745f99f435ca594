package ai

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrQuotaExceeded means the provider refused for quota or rate reasons (HTTP 429).
	ErrQuotaExceeded = errors.New("ai quota exceeded")
	// ErrEmptySummary means the provider answered without usable content.
	ErrEmptySummary = errors.New("ai returned an empty summary")
)

// SummaryInput is what the summarizer sees of a finished analysis.
type SummaryInput struct {
	AnalysisID            string          `json:"analysis_id"`
	Status                string          `json:"status"`
	Critical              int             `json:"critical"`
	High                  int             `json:"high"`
	Medium                int             `json:"medium"`
	Low                   int             `json:"low"`
	Info                  int             `json:"info"`
	Total                 int             `json:"total"`
	StaticAnalysisReport  json.RawMessage `json:"static_analysis_report,omitempty"`
	PenetrationTestReport json.RawMessage `json:"penetration_test_report,omitempty"`
}

// Summarizer writes an executive summary for a finished analysis.
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (string, error)
}
