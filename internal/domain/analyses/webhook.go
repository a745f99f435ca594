package analyses

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
)

// ErrPayloadNotObject is returned when a callback body is not a JSON object.
var ErrPayloadNotObject = errors.New("webhook payload must be a JSON object")

// WebhookPayload is a worker callback. Every field is optional; a nil
// pointer means the field was absent or unusable.
type WebhookPayload struct {
	Status                *Status
	StaticAnalysisReport  json.RawMessage
	PenetrationTestReport json.RawMessage
	ExecutiveSummary      *string
	StepResults           json.RawMessage
	ExploitSessionID      *string

	VulnerabilitiesFound *int
	CriticalCount        *int
	HighCount            *int
	MediumCount          *int
	LowCount             *int
	InfoCount            *int

	Error      *string
	LogMessage *string
	LogLevel   LogLevel
	RawOutput  *string
}

// CountsDelta returns the severity increments carried by the payload and
// whether any were present.
func (p WebhookPayload) CountsDelta() (SeverityCounts, bool) {
	var d SeverityCounts
	present := false
	take := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
			present = true
		}
	}
	take(&d.Total, p.VulnerabilitiesFound)
	take(&d.Critical, p.CriticalCount)
	take(&d.High, p.HighCount)
	take(&d.Medium, p.MediumCount)
	take(&d.Low, p.LowCount)
	take(&d.Info, p.InfoCount)
	return d, present
}

// ParseWebhookPayload decodes a callback body field by field. Fields with
// an unexpected type are dropped and unknown fields are ignored; only a
// body that is not a JSON object is rejected.
func ParseWebhookPayload(data []byte) (WebhookPayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return WebhookPayload{}, ErrPayloadNotObject
	}

	var p WebhookPayload
	if s, ok := stringField(fields, "status"); ok {
		st := Status(s)
		p.Status = &st
	}
	p.StaticAnalysisReport = opaqueField(fields, "static_analysis_report")
	p.PenetrationTestReport = opaqueField(fields, "penetration_test_report")
	p.StepResults = opaqueField(fields, "step_results")
	if s, ok := stringField(fields, "executive_summary"); ok {
		p.ExecutiveSummary = &s
	}
	if s, ok := stringField(fields, "exploit_session_id"); ok {
		p.ExploitSessionID = &s
	}

	p.VulnerabilitiesFound = countField(fields, "vulnerabilities_found")
	p.CriticalCount = countField(fields, "critical_count")
	p.HighCount = countField(fields, "high_count")
	p.MediumCount = countField(fields, "medium_count")
	p.LowCount = countField(fields, "low_count")
	p.InfoCount = countField(fields, "info_count")

	if s, ok := stringField(fields, "error"); ok && s != "" {
		p.Error = &s
	}
	if s, ok := stringField(fields, "log_message"); ok && s != "" {
		p.LogMessage = &s
	}
	level, _ := stringField(fields, "log_level")
	p.LogLevel = ParseLogLevel(level)
	if s, ok := stringField(fields, "raw_output"); ok && s != "" {
		p.RawOutput = &s
	}
	return p, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// opaqueField keeps any non-null JSON value verbatim.
func opaqueField(fields map[string]json.RawMessage, key string) json.RawMessage {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), trimmed...)
}

// countField accepts non-negative integral numbers only.
func countField(fields map[string]json.RawMessage, key string) *int {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return nil
	}
	n := int(f)
	return &n
}
