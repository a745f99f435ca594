package scanerrors

import (
	"encoding/json"
	"strings"
	"time"
)

// Phase of the pipeline a failure belongs to.
type Phase string

const (
	PhaseSAST    Phase = "sast"
	PhaseSandbox Phase = "sandbox"
	PhaseDAST    Phase = "dast"
)

// ScanError represents a persisted orchestration failure entry
type ScanError struct {
	ID          int64     `json:"id"`
	AnalysisID  string    `json:"analysis_id"`
	Phase       Phase     `json:"phase"`
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time `json:"created_at"`
}

// NormalizeDetails returns details as stored: "{}" when empty, wrapped as
// {"raw": ...} when it is not valid JSON.
func NormalizeDetails(details string) string {
	if strings.TrimSpace(details) == "" {
		return "{}"
	}
	if !json.Valid([]byte(details)) {
		b, _ := json.Marshal(map[string]string{"raw": details})
		return string(b)
	}
	return details
}
