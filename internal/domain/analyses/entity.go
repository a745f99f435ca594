package analyses

import (
	"encoding/json"
	"time"
)

// AnalysisID tipe untuk Analysis
type AnalysisID string

// Status pipeline enum
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusCloning             Status = "CLONING"
	StatusStaticAnalysis      Status = "STATIC_ANALYSIS"
	StatusBuilding            Status = "BUILDING"
	StatusPenetrationTest     Status = "PENETRATION_TEST"
	StatusExploitVerification Status = "EXPLOIT_VERIFICATION"
	StatusCompleted           Status = "COMPLETED"
	StatusCompletedWithErrors Status = "COMPLETED_WITH_ERRORS"
	StatusFailed              Status = "FAILED"
	StatusCancelled           Status = "CANCELLED"
)

// SandboxStatus is tracked independently from the pipeline status.
type SandboxStatus string

const (
	SandboxUnset     SandboxStatus = ""
	SandboxCreating  SandboxStatus = "CREATING"
	SandboxRunning   SandboxStatus = "RUNNING"
	SandboxFailed    SandboxStatus = "FAILED"
	SandboxSkipped   SandboxStatus = "SKIPPED"
	SandboxCompleted SandboxStatus = "COMPLETED"
)

// SeverityCounts value object. All fields only ever grow.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// Add returns the field-wise sum of c and d.
func (c SeverityCounts) Add(d SeverityCounts) SeverityCounts {
	return SeverityCounts{
		Critical: c.Critical + d.Critical,
		High:     c.High + d.High,
		Medium:   c.Medium + d.Medium,
		Low:      c.Low + d.Low,
		Info:     c.Info + d.Info,
		Total:    c.Total + d.Total,
	}
}

// IsZero reports whether every counter is zero.
func (c SeverityCounts) IsZero() bool {
	return c == SeverityCounts{}
}

// Aggregate Root: Analysis
type Analysis struct {
	ID            AnalysisID `json:"id"`
	UserID        string     `json:"user_id"`
	ProjectID     string     `json:"project_id"`
	RepositoryURL string     `json:"repository_url,omitempty"`
	Branch        string     `json:"branch,omitempty"`
	Status        Status     `json:"status"`
	Logs          []LogEntry `json:"logs"`

	StaticAnalysisReport  json.RawMessage `json:"static_analysis_report,omitempty"`
	PenetrationTestReport json.RawMessage `json:"penetration_test_report,omitempty"`
	ExecutiveSummary      string          `json:"executive_summary,omitempty"`
	StepResults           json.RawMessage `json:"step_results,omitempty"`
	ExploitSessionID      string          `json:"exploit_session_id,omitempty"`

	Counts SeverityCounts `json:"counts"`

	SandboxStatus      SandboxStatus `json:"sandbox_status,omitempty"`
	SandboxContainerID string        `json:"sandbox_container_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no mutable state with a.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.Logs = append([]LogEntry(nil), a.Logs...)
	c.StaticAnalysisReport = cloneRaw(a.StaticAnalysisReport)
	c.PenetrationTestReport = cloneRaw(a.PenetrationTestReport)
	c.StepResults = cloneRaw(a.StepResults)
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

// Update is a sparse patch. Nil fields are left untouched.
//
// Counts carries the absolute values computed from the snapshot the patch
// was derived from; CountsDelta carries the increments that produced them.
// Storage adapters apply CountsDelta atomically so that concurrent patches
// derived from the same snapshot do not lose increments.
type Update struct {
	Status                *Status
	Logs                  []LogEntry
	StaticAnalysisReport  json.RawMessage
	PenetrationTestReport json.RawMessage
	ExecutiveSummary      *string
	StepResults           json.RawMessage
	ExploitSessionID      *string
	Counts                *SeverityCounts
	CountsDelta           *SeverityCounts
	SandboxStatus         *SandboxStatus
	SandboxContainerID    *string
	CompletedAt           *time.Time

	// SandboxStatusFrom, when set, applies SandboxStatus only while the
	// stored sandbox status is one of these. The rest of the patch applies
	// regardless.
	SandboxStatusFrom []SandboxStatus
}

// IsEmpty reports whether the patch changes nothing.
func (u Update) IsEmpty() bool {
	return u.Status == nil &&
		u.Logs == nil &&
		u.StaticAnalysisReport == nil &&
		u.PenetrationTestReport == nil &&
		u.ExecutiveSummary == nil &&
		u.StepResults == nil &&
		u.ExploitSessionID == nil &&
		u.Counts == nil &&
		u.CountsDelta == nil &&
		u.SandboxStatus == nil &&
		u.SandboxContainerID == nil &&
		u.CompletedAt == nil
}

// SandboxStatusAllowed reports whether the guarded sandbox write applies
// over current.
func (u Update) SandboxStatusAllowed(current SandboxStatus) bool {
	if len(u.SandboxStatusFrom) == 0 {
		return true
	}
	for _, s := range u.SandboxStatusFrom {
		if s == current {
			return true
		}
	}
	return false
}

// ApplyTo writes the patch onto a. Used by in-memory stores and tests; SQL
// adapters translate the same fields into column updates.
func (u Update) ApplyTo(a *Analysis) {
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Logs != nil {
		a.Logs = append([]LogEntry(nil), u.Logs...)
	}
	if u.StaticAnalysisReport != nil {
		a.StaticAnalysisReport = cloneRaw(u.StaticAnalysisReport)
	}
	if u.PenetrationTestReport != nil {
		a.PenetrationTestReport = cloneRaw(u.PenetrationTestReport)
	}
	if u.ExecutiveSummary != nil {
		a.ExecutiveSummary = *u.ExecutiveSummary
	}
	if u.StepResults != nil {
		a.StepResults = cloneRaw(u.StepResults)
	}
	if u.ExploitSessionID != nil {
		a.ExploitSessionID = *u.ExploitSessionID
	}
	switch {
	case u.CountsDelta != nil:
		a.Counts = a.Counts.Add(*u.CountsDelta)
	case u.Counts != nil:
		a.Counts = *u.Counts
	}
	if u.SandboxStatus != nil && u.SandboxStatusAllowed(a.SandboxStatus) {
		a.SandboxStatus = *u.SandboxStatus
	}
	if u.SandboxContainerID != nil {
		a.SandboxContainerID = *u.SandboxContainerID
	}
	if u.CompletedAt != nil && a.CompletedAt == nil {
		t := *u.CompletedAt
		a.CompletedAt = &t
	}
}
