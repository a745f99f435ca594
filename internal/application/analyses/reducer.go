package analyses

import (
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
)

// Reduce merges one worker callback into the record and returns the sparse
// patch to persist. It is pure: current and p are never modified, no I/O is
// performed and no payload shape can make it fail. A rejected status
// transition is recorded as a warning log entry and the rest of the payload
// is still applied.
func Reduce(current *domain.Analysis, p domain.WebhookPayload, now time.Time) domain.Update {
	var u domain.Update
	if current == nil {
		return u
	}

	status := current.Status
	changed := false
	var entries []domain.LogEntry

	// 1. status
	if p.Status != nil && *p.Status != current.Status {
		to := *p.Status
		if domain.CanTransition(current.Status, to) {
			status = to
			changed = true
			u.Status = &to
			entries = append(entries, domain.NewLogEntry(now, status, domain.LogInfo,
				fmt.Sprintf("status changed: %s → %s", current.Status, to), ""))
		} else {
			entries = append(entries, domain.NewLogEntry(now, status, domain.LogWarn,
				fmt.Sprintf("rejected status transition: %s → %s", current.Status, to), ""))
		}
	}

	// 2. worker log line
	if p.LogMessage != nil {
		raw := ""
		if p.RawOutput != nil {
			raw = *p.RawOutput
		}
		level := p.LogLevel
		if level == "" {
			level = domain.LogInfo
		}
		entries = append(entries, domain.NewLogEntry(now, status, level, *p.LogMessage, raw))
	}

	// 3. worker error
	if p.Error != nil {
		entries = append(entries, domain.NewLogEntry(now, status, domain.LogError, *p.Error, ""))
	}

	if len(entries) > 0 {
		u.Logs = domain.AppendLogs(current.Logs, entries...)
	}

	// 4. reports
	if p.StaticAnalysisReport != nil && shouldUpdateReport(current.StaticAnalysisReport, p.StaticAnalysisReport) {
		u.StaticAnalysisReport = cloneRaw(p.StaticAnalysisReport)
	}
	if p.PenetrationTestReport != nil && shouldUpdateReport(current.PenetrationTestReport, p.PenetrationTestReport) {
		u.PenetrationTestReport = cloneRaw(p.PenetrationTestReport)
	}

	// 5. severity counters are additive
	if delta, ok := p.CountsDelta(); ok && !delta.IsZero() {
		total := current.Counts.Add(delta)
		u.Counts = &total
		u.CountsDelta = &delta
	}

	// 6. last-write-wins passthrough
	if p.ExecutiveSummary != nil {
		s := *p.ExecutiveSummary
		u.ExecutiveSummary = &s
	}
	if p.StepResults != nil {
		u.StepResults = cloneRaw(p.StepResults)
	}
	if p.ExploitSessionID != nil {
		s := *p.ExploitSessionID
		u.ExploitSessionID = &s
	}

	// 7. terminal side effects, only on an actual transition
	if changed && domain.IsTerminalStatus(status) {
		if current.CompletedAt == nil {
			t := now.UTC()
			u.CompletedAt = &t
		}
		if sb, ok := terminalSandboxStatus(current.SandboxStatus, status); ok {
			u.SandboxStatus = &sb
		}
	}

	return u
}

// shouldUpdateReport rejects skipped reports, and empty reports that would
// replace one that already has findings. Anything is accepted when no
// report is stored yet.
func shouldUpdateReport(existing, incoming json.RawMessage) bool {
	if len(existing) == 0 {
		return true
	}
	if domain.IsSkippedReport(incoming) {
		return false
	}
	in, inKnown := domain.ReportFindings(incoming)
	have, haveKnown := domain.ReportFindings(existing)
	if inKnown && in == 0 && haveKnown && have > 0 {
		return false
	}
	return true
}

// terminalSandboxStatus settles a sandbox that is still in flight when the
// pipeline finishes.
func terminalSandboxStatus(current domain.SandboxStatus, status domain.Status) (domain.SandboxStatus, bool) {
	if current != domain.SandboxCreating && current != domain.SandboxRunning {
		return "", false
	}
	switch status {
	case domain.StatusCompleted, domain.StatusCompletedWithErrors:
		return domain.SandboxCompleted, true
	default:
		return domain.SandboxFailed, true
	}
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), r...)
}
