package devicelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func TestNDJSONLineParser_ParsesEventMessage(t *testing.T) {
	parse := NDJSONLineParser(types.SourceSimulator)
	line := `{"timestamp":"2024-01-02 15:04:05.000000-0700","processImagePath":"/usr/bin/Notes","messageType":"Error","eventMessage":"failed to save"}`
	e := parse(line)
	require.NotNil(t, e)
	assert.Equal(t, "Notes", e.Process)
	assert.Equal(t, types.LevelError, e.Level)
	assert.Equal(t, "failed to save", e.Message)
}

func TestNDJSONLineParser_IgnoresNonJSONNoise(t *testing.T) {
	parse := NDJSONLineParser(types.SourceSimulator)
	assert.Nil(t, parse("Filtering the log data using ..."))
}

func TestDefaultLineParser_FallsBackToRawMessage(t *testing.T) {
	parse := DefaultLineParser(types.SourceSyslog)
	e := parse("some unstructured line")
	require.NotNil(t, e)
	assert.Equal(t, "some unstructured line", e.Message)
}

func TestAdapter_ReconfigureAppliesFilter(t *testing.T) {
	a := New(KindSimulator, "ABCD", SimulatorCommand(""), NDJSONLineParser(types.SourceSimulator), testLogger())
	require.NoError(t, a.Reconfigure(types.AdapterFilter{Process: "Notes"}))
	assert.True(t, a.excluded(&types.LogEntry{Process: "Other"}))
	assert.False(t, a.excluded(&types.LogEntry{Process: "Notes"}))
}
