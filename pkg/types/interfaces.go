package types

import "context"

// AdapterStatusState is the small closed set of states a source adapter can
// report.
type AdapterStatusState string

const (
	AdapterRunning  AdapterStatusState = "running"
	AdapterWatching AdapterStatusState = "watching"
	AdapterStopped  AdapterStatusState = "stopped"
	AdapterError    AdapterStatusState = "error"
)

// AdapterStatus is the status an adapter reports to the supervisor and to
// GET /api/v1/logs/sources.
type AdapterStatus struct {
	Name         string             `json:"name"`
	State        AdapterStatusState `json:"state"`
	Detail       string             `json:"detail,omitempty"`
	Restarts     int                `json:"restarts"`
	DroppedLines int                `json:"dropped_lines,omitempty"`
}

// EmitFunc is how an adapter hands a parsed entry to the pipeline
// (classifier -> deduplicator -> ring).
type EmitFunc func(*LogEntry)

// Adapter is the uniform lifecycle contract every log producer honors.
// Implementations never let an error escape into the supervisor: failures
// become a status transition to AdapterError.
type Adapter interface {
	Name() string
	Start(ctx context.Context, emit EmitFunc) error
	Stop(deadline context.Context) error
	Status() AdapterStatus
	Reconfigure(filter AdapterFilter) error
}

// AdapterFilter is the in-process filter applied before emit: process name
// and substring excludes. Concrete adapters interpret the zero value as "no
// filtering."
type AdapterFilter struct {
	Process        string   `json:"process,omitempty"`
	ExcludeSubstrs []string `json:"exclude_substrs,omitempty"`
}
