package analyses

import (
	"encoding/json"
	"strings"
	"time"
)

// LogLevel enum
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarn    LogLevel = "warn"
	LogError   LogLevel = "error"
	LogSuccess LogLevel = "success"
)

// ParseLogLevel normalizes s, falling back to info for anything unrecognized.
func ParseLogLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogWarn, "warning":
		return LogWarn
	case LogError:
		return LogError
	case LogSuccess:
		return LogSuccess
	default:
		return LogInfo
	}
}

// LogEntry is immutable once appended.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Step      string    `json:"step"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	RawOutput string    `json:"raw_output,omitempty"`
}

// NewLogEntry builds an entry whose step is derived from status.
func NewLogEntry(at time.Time, status Status, level LogLevel, message, rawOutput string) LogEntry {
	return LogEntry{
		Timestamp: at.UTC(),
		Step:      MapStatusToStep(status),
		Level:     level,
		Message:   message,
		RawOutput: rawOutput,
	}
}

// AppendLogs returns a new slice holding logs followed by entries. The input
// slice is never written to, even when it has spare capacity.
func AppendLogs(logs []LogEntry, entries ...LogEntry) []LogEntry {
	out := make([]LogEntry, 0, len(logs)+len(entries))
	out = append(out, logs...)
	return append(out, entries...)
}

// LogGroup is one display section of a log.
type LogGroup struct {
	Step    string     `json:"step"`
	Entries []LogEntry `json:"entries"`
}

// GroupLogsByStep groups entries by step. Groups appear in the order their
// step was first seen and entries keep insertion order within a group.
func GroupLogsByStep(logs []LogEntry) []LogGroup {
	groups := make([]LogGroup, 0)
	index := make(map[string]int)
	for _, e := range logs {
		i, ok := index[e.Step]
		if !ok {
			i = len(groups)
			index[e.Step] = i
			groups = append(groups, LogGroup{Step: e.Step})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}
	return groups
}

// ParseLogs decodes a serialized log column. NULL, empty or corrupt data
// yields an empty log rather than an error, so a damaged column never
// blocks further processing of the record.
func ParseLogs(data []byte) []LogEntry {
	if len(data) == 0 {
		return []LogEntry{}
	}
	var logs []LogEntry
	if err := json.Unmarshal(data, &logs); err != nil || logs == nil {
		return []LogEntry{}
	}
	return logs
}

// MarshalLogs serializes logs for storage, always producing a JSON array.
func MarshalLogs(logs []LogEntry) ([]byte, error) {
	if logs == nil {
		logs = []LogEntry{}
	}
	return json.Marshal(logs)
}
