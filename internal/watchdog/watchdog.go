// Package watchdog periodically inspects adapter and proxy health, turning
// state transitions into one server-sourced LogEntry each, and maintains
// the SLO-flavored objective snapshot GET /health reports. It consolidates
// what the teacher split across four overlapping goroutine/resource
// trackers (pkg/goroutines, pkg/leakdetection, pkg/monitoring, pkg/profiling)
// into one reporter.
package watchdog

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"quern/internal/adapter"
	"quern/internal/proxy"
	"quern/internal/ring"
	"quern/pkg/types"
)

const (
	ringWarnRatio    = 0.80
	ringCritRatio    = 0.95
	storeWarnRatio   = 0.80
	storeCritRatio   = 0.95
	uptimeWarnRatio  = 0.90
	uptimeCritRatio  = 0.50
)

// Watchdog samples the ring, flow store, and adapter supervisor on a fixed
// interval and keeps the latest HealthSnapshot available for /health.
type Watchdog struct {
	ring       *ring.Ring
	store      *proxy.Store
	supervisor *adapter.Supervisor
	interval   time.Duration
	emit       types.EmitFunc
	log        *logrus.Logger
	proc       *process.Process

	mu        sync.RWMutex
	lastState map[string]types.AdapterStatusState
	snapshot  types.HealthSnapshot
}

// New builds a watchdog over the daemon's core components. emit is the
// shared log pipeline entry point, used to record one LogEntry per adapter
// state transition.
func New(r *ring.Ring, store *proxy.Store, sup *adapter.Supervisor, interval time.Duration, emit types.EmitFunc, log *logrus.Logger) *Watchdog {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Watchdog{
		ring:       r,
		store:      store,
		supervisor: sup,
		interval:   interval,
		emit:       emit,
		log:        log,
		proc:       proc,
		lastState:  make(map[string]types.AdapterStatusState),
	}
}

// Run samples immediately, then on every tick, until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	w.tick()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// Snapshot returns the most recently computed HealthSnapshot, safe to call
// concurrently with Run from the /health handler.
func (w *Watchdog) Snapshot() types.HealthSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

func (w *Watchdog) tick() {
	statuses := w.supervisor.Statuses()
	w.recordTransitions(statuses)

	objectives := []types.Objective{
		w.ringObjective(),
		w.storeObjective(),
		adapterUptimeObjective(statuses),
	}

	snapshot := types.HealthSnapshot{
		Status:     "ok",
		Objectives: objectives,
		Resources:  w.sampleResources(),
		Adapters:   statuses,
		CheckedAt:  time.Now(),
	}
	if worstStatus(objectives) == types.ObjectiveCritical {
		snapshot.Status = "degraded"
	}

	w.mu.Lock()
	w.snapshot = snapshot
	w.mu.Unlock()
}

// recordTransitions diffs the current adapter states against the last tick
// and emits exactly one LogEntry per change. Restart itself is the
// supervisor's own capped-backoff policy (the adapter capability contract);
// the watchdog's job here is purely observability of those transitions.
func (w *Watchdog) recordTransitions(statuses []types.AdapterStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, st := range statuses {
		prev, seen := w.lastState[st.Name]
		if seen && prev == st.State {
			continue
		}
		w.lastState[st.Name] = st.State
		if !seen {
			continue // don't log the very first observation as a "transition"
		}
		if w.emit == nil {
			continue
		}
		w.emit(&types.LogEntry{
			Timestamp: time.Now(),
			Source:    types.SourceServer,
			Process:   st.Name,
			Level:     transitionLevel(st.State),
			Message:   "adapter " + st.Name + " transitioned to " + string(st.State),
		})
	}
}

func transitionLevel(state types.AdapterStatusState) types.Level {
	if state == types.AdapterError {
		return types.LevelError
	}
	return types.LevelInfo
}

func (w *Watchdog) ringObjective() types.Objective {
	count, capacity := w.ring.Usage()
	return ratioObjective("ring_fill_ratio", count, capacity, ringWarnRatio, ringCritRatio)
}

func (w *Watchdog) storeObjective() types.Objective {
	count, capacity := w.store.Usage()
	return ratioObjective("flow_store_fill_ratio", count, capacity, storeWarnRatio, storeCritRatio)
}

// adapterUptimeObjective reports the fraction of registered adapters that
// are currently running or watching rather than stopped or errored. It is
// an instantaneous ratio, not a time-weighted one: the supervisor doesn't
// keep enough history to compute a true uptime percentage, and an
// instantaneous "how many are healthy right now" is what /health actually
// needs to answer.
func adapterUptimeObjective(statuses []types.AdapterStatus) types.Objective {
	if len(statuses) == 0 {
		return types.Objective{Name: "adapter_uptime_ratio", Value: 1, Target: uptimeWarnRatio, Status: types.ObjectiveHealthy}
	}
	healthy := 0
	for _, st := range statuses {
		if st.State == types.AdapterRunning || st.State == types.AdapterWatching {
			healthy++
		}
	}
	ratio := float64(healthy) / float64(len(statuses))
	status := types.ObjectiveHealthy
	switch {
	case ratio < uptimeCritRatio:
		status = types.ObjectiveCritical
	case ratio < uptimeWarnRatio:
		status = types.ObjectiveWarning
	}
	return types.Objective{Name: "adapter_uptime_ratio", Value: ratio, Target: uptimeWarnRatio, Status: status}
}

func ratioObjective(name string, count, capacity int, warn, crit float64) types.Objective {
	if capacity <= 0 {
		return types.Objective{Name: name, Value: 0, Target: warn, Status: types.ObjectiveHealthy}
	}
	ratio := float64(count) / float64(capacity)
	status := types.ObjectiveHealthy
	switch {
	case ratio >= crit:
		status = types.ObjectiveCritical
	case ratio >= warn:
		status = types.ObjectiveWarning
	}
	return types.Objective{Name: name, Value: ratio, Target: warn, Status: status}
}

func worstStatus(objectives []types.Objective) types.ObjectiveStatus {
	worst := types.ObjectiveHealthy
	for _, o := range objectives {
		if o.Status == types.ObjectiveCritical {
			return types.ObjectiveCritical
		}
		if o.Status == types.ObjectiveWarning {
			worst = types.ObjectiveWarning
		}
	}
	return worst
}

func (w *Watchdog) sampleResources() types.ResourceUsage {
	usage := types.ResourceUsage{Goroutines: runtime.NumGoroutine()}
	if w.proc == nil {
		return usage
	}
	if mem, err := w.proc.MemoryInfo(); err == nil && mem != nil {
		usage.RSSBytes = mem.RSS
	}
	if cpuPct, err := w.proc.CPUPercent(); err == nil {
		usage.CPUPercent = cpuPct
	}
	return usage
}
