package devicelog

import (
	"encoding/json"
	"time"

	"quern/pkg/types"
)

// ndjsonLine is the subset of `log stream --style ndjson` fields Quern
// cares about; the tool emits several more (activityIdentifier, category,
// threadID, ...) we pass through via Raw for debugging but don't parse.
type ndjsonLine struct {
	Timestamp    string `json:"timestamp"`
	Process      string `json:"processImagePath"`
	Sender       string `json:"senderImagePath"`
	Subsystem    string `json:"subsystem"`
	MessageType  string `json:"messageType"`
	EventMessage string `json:"eventMessage"`
}

var ndjsonLevels = map[string]types.Level{
	"Debug":   types.LevelDebug,
	"Info":    types.LevelInfo,
	"Default": types.LevelNotice,
	"Error":   types.LevelError,
	"Fault":   types.LevelFault,
}

// NDJSONLineParser parses one line of `log stream --style ndjson` output
// into a LogEntry. Non-JSON lines (framing noise simctl occasionally
// prints) are dropped rather than surfaced as malformed entries.
func NDJSONLineParser(source types.Source) LineParser {
	return func(line string) *types.LogEntry {
		if len(line) == 0 || line[0] != '{' {
			return nil
		}
		var raw ndjsonLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil
		}
		if raw.EventMessage == "" {
			return nil
		}
		ts, err := time.Parse("2006-01-02 15:04:05.000000-0700", raw.Timestamp)
		if err != nil {
			ts = time.Now()
		}
		level, ok := ndjsonLevels[raw.MessageType]
		if !ok {
			level = types.LevelInfo
		}
		proc := raw.Process
		if proc == "" {
			proc = raw.Sender
		}
		return &types.LogEntry{
			Timestamp: ts,
			Source:    source,
			Process:   lastPathComponent(proc),
			Level:     level,
			Subsystem: raw.Subsystem,
			Message:   raw.EventMessage,
			Raw:       line,
		}
	}
}

func lastPathComponent(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
