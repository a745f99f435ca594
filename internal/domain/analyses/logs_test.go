package analyses

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"info":     LogInfo,
		"WARN":     LogWarn,
		"warning":  LogWarn,
		" error ":  LogError,
		"success":  LogSuccess,
		"":         LogInfo,
		"critical": LogInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestNewLogEntry_DerivesStep(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	e := NewLogEntry(t0.In(loc), StatusCloning, LogInfo, "cloning", "git output")
	assert.Equal(t, "repository clone", e.Step)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.True(t, e.Timestamp.Equal(t0))
	assert.Equal(t, "git output", e.RawOutput)
}

func TestAppendLogs_DoesNotShareBacking(t *testing.T) {
	base := make([]LogEntry, 1, 4)
	base[0] = NewLogEntry(t0, StatusPending, LogInfo, "a", "")

	first := AppendLogs(base, NewLogEntry(t0, StatusPending, LogInfo, "b", ""))
	second := AppendLogs(base, NewLogEntry(t0, StatusPending, LogInfo, "c", ""))

	require.Len(t, first, 2)
	require.Len(t, second, 2)
	assert.Equal(t, "b", first[1].Message)
	assert.Equal(t, "c", second[1].Message)
	assert.Len(t, base, 1)
}

func TestGroupLogsByStep_FirstSeenOrder(t *testing.T) {
	logs := []LogEntry{
		NewLogEntry(t0, StatusPending, LogInfo, "queued", ""),
		NewLogEntry(t0, StatusCloning, LogInfo, "clone 1", ""),
		NewLogEntry(t0, StatusStaticAnalysis, LogWarn, "sast", ""),
		NewLogEntry(t0, StatusCloning, LogInfo, "clone 2", ""),
	}
	groups := GroupLogsByStep(logs)
	require.Len(t, groups, 3)
	assert.Equal(t, "queued", groups[0].Step)
	assert.Equal(t, "repository clone", groups[1].Step)
	assert.Equal(t, "static analysis", groups[2].Step)
	require.Len(t, groups[1].Entries, 2)
	assert.Equal(t, "clone 1", groups[1].Entries[0].Message)
	assert.Equal(t, "clone 2", groups[1].Entries[1].Message)

	assert.NotNil(t, GroupLogsByStep(nil))
	assert.Empty(t, GroupLogsByStep(nil))
}

func TestParseLogs_Tolerant(t *testing.T) {
	for _, in := range []string{"", "null", "{not json", `{"a":1}`, `"text"`} {
		logs := ParseLogs([]byte(in))
		assert.NotNil(t, logs, in)
		assert.Empty(t, logs, in)
	}

	data, err := MarshalLogs([]LogEntry{NewLogEntry(t0, StatusBuilding, LogSuccess, "built", "")})
	require.NoError(t, err)
	logs := ParseLogs(data)
	require.Len(t, logs, 1)
	assert.Equal(t, "sandbox build", logs[0].Step)
	assert.Equal(t, LogSuccess, logs[0].Level)
}

func TestMarshalLogs_NilIsEmptyArray(t *testing.T) {
	data, err := MarshalLogs(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
