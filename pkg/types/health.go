package types

import "time"

// ObjectiveStatus mirrors the teacher's SLO status vocabulary
// (healthy/warning/critical) applied to Quern's own resource objectives
// instead of a Prometheus-backed SLI.
type ObjectiveStatus string

const (
	ObjectiveHealthy  ObjectiveStatus = "healthy"
	ObjectiveWarning  ObjectiveStatus = "warning"
	ObjectiveCritical ObjectiveStatus = "critical"
)

// Objective is one watchdog-tracked ratio (e.g. ring fill, adapter uptime)
// evaluated against a target and bucketed into a status.
type Objective struct {
	Name   string          `json:"name"`
	Value  float64         `json:"value"`
	Target float64         `json:"target"`
	Status ObjectiveStatus `json:"status"`
}

// ResourceUsage is the consolidated goroutine/process diagnostic the
// watchdog samples each tick, replacing what the teacher split across four
// overlapping trackers.
type ResourceUsage struct {
	Goroutines  int     `json:"goroutines"`
	RSSBytes    uint64  `json:"rss_bytes"`
	CPUPercent  float64 `json:"cpu_percent"`
}

// HealthSnapshot is the watchdog's most recent assessment, served at
// GET /health (augmented beyond the bare {status:"ok"} spec.md describes,
// for operators who want more than a liveness bit).
type HealthSnapshot struct {
	Status     string          `json:"status"`
	Objectives []Objective     `json:"objectives"`
	Resources  ResourceUsage   `json:"resources"`
	Adapters   []AdapterStatus `json:"adapters"`
	CheckedAt  time.Time       `json:"checked_at"`
}
