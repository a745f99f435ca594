package analyses

import (
	"encoding/json"
	"strings"
)

// Reports are opaque to the pipeline apart from two facts the report guard
// needs: whether the worker marked the step as skipped, and how many
// findings it carries. Workers send reports either as a JSON object or as a
// string holding one. Every other field may have any type.

// reportFields holds the top-level members of an object report.
type reportFields map[string]json.RawMessage

// field decodes one member into dst. A missing or mistyped member is
// reported as absent.
func (f reportFields) field(name string, dst any) bool {
	raw, ok := f[name]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// decodeReport unwraps a JSON-encoded string report one level. str is the
// string form when the report was a JSON string.
func decodeReport(raw json.RawMessage) (fields reportFields, str string, ok bool) {
	if err := json.Unmarshal(raw, &fields); err == nil && fields != nil {
		return fields, "", true
	}
	if err := json.Unmarshal(raw, &str); err != nil {
		return nil, "", false
	}
	if err := json.Unmarshal([]byte(str), &fields); err == nil && fields != nil {
		return fields, str, true
	}
	return nil, str, false
}

// IsSkippedReport reports whether the worker marked the step as skipped.
func IsSkippedReport(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	fields, str, ok := decodeReport(raw)
	if !ok {
		return strings.EqualFold(strings.TrimSpace(str), "skipped")
	}
	var skipped bool
	if fields.field("skipped", &skipped) && skipped {
		return true
	}
	var status string
	return fields.field("status", &status) && strings.EqualFold(status, "skipped")
}

// ReportFindings returns the length of the report's findings array. The
// second result is false when the report has no findings array at all.
func ReportFindings(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	fields, _, ok := decodeReport(raw)
	if !ok {
		return 0, false
	}
	var findings []json.RawMessage
	if !fields.field("findings", &findings) || findings == nil {
		return 0, false
	}
	return len(findings), true
}
