// Package proxysink implements the proxy-sink adapter contract: unlike the
// other adapters it has no subprocess of its own to read from. It receives
// completed Flow events from the flow store (populated over HTTP by the
// mitmproxy addon, see internal/proxy) and fans one summary LogEntry per
// flow into the log pipeline.
package proxysink

import (
	"fmt"
	"time"

	"quern/pkg/types"
)

// Summarize builds the one-line LogEntry a completed flow contributes to
// the log pipeline. The full flow itself lives only in the flow store; this
// is just a searchable index row, mirroring how crash reports index their
// on-disk file.
func Summarize(f *types.Flow) *types.LogEntry {
	level := types.LevelInfo
	if f.Error != "" || f.Response.Status >= 500 {
		level = types.LevelError
	} else if f.Response.Status >= 400 {
		level = types.LevelWarning
	}

	msg := fmt.Sprintf("%s %s%s -> %d (%dms)", f.Request.Method, f.Request.Host, f.Request.Path, f.Response.Status, f.DurationMS)
	if f.Error != "" {
		msg = fmt.Sprintf("%s %s%s -> error: %s", f.Request.Method, f.Request.Host, f.Request.Path, f.Error)
	}

	return &types.LogEntry{
		Timestamp:  time.Now(),
		Source:     types.SourceProxy,
		Level:      level,
		Message:    msg,
		DeviceUDID: f.DeviceUDID,
		Labels:     map[string]string{"flow_id": fmt.Sprintf("%d", f.ID), "flow_source": string(f.Source)},
	}
}
