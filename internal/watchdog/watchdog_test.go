package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/internal/adapter"
	"quern/internal/proxy"
	"quern/internal/ring"
	"quern/pkg/types"
)

type toggleAdapter struct {
	name  string
	mu    sync.Mutex
	state types.AdapterStatusState
}

func (a *toggleAdapter) Name() string { return a.name }
func (a *toggleAdapter) Start(context.Context, types.EmitFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = types.AdapterRunning
	return nil
}
func (a *toggleAdapter) Stop(context.Context) error { return nil }
func (a *toggleAdapter) Status() types.AdapterStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return types.AdapterStatus{Name: a.name, State: a.state}
}
func (a *toggleAdapter) Reconfigure(types.AdapterFilter) error { return nil }
func (a *toggleAdapter) setState(s types.AdapterStatusState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestWatchdog_RingFillObjectiveCrossesThresholds(t *testing.T) {
	r := ring.New(10)
	for i := 0; i < 9; i++ {
		r.Append(&types.LogEntry{Message: "x"})
	}
	store := proxy.New(100)
	sup := adapter.NewSupervisor(testLogger(), func(*types.LogEntry) {})

	w := New(r, store, sup, time.Hour, nil, testLogger())
	w.tick()

	snap := w.Snapshot()
	var ringObj *types.Objective
	for i := range snap.Objectives {
		if snap.Objectives[i].Name == "ring_fill_ratio" {
			ringObj = &snap.Objectives[i]
		}
	}
	require.NotNil(t, ringObj)
	assert.InDelta(t, 0.9, ringObj.Value, 0.01)
	assert.Equal(t, types.ObjectiveWarning, ringObj.Status)
}

func TestWatchdog_EmitsOneLogEntryPerAdapterTransition(t *testing.T) {
	r := ring.New(10)
	store := proxy.New(10)
	sup := adapter.NewSupervisor(testLogger(), func(*types.LogEntry) {})
	a := &toggleAdapter{name: "syslog", state: types.AdapterRunning}
	sup.Register(a)

	var mu sync.Mutex
	var entries []*types.LogEntry
	emit := func(e *types.LogEntry) {
		mu.Lock()
		defer mu.Unlock()
		entries = append(entries, e)
	}

	w := New(r, store, sup, time.Hour, emit, testLogger())
	w.tick() // first observation: no transition logged yet

	mu.Lock()
	assert.Empty(t, entries)
	mu.Unlock()

	a.setState(types.AdapterError)
	w.tick()

	mu.Lock()
	require.Len(t, entries, 1)
	assert.Equal(t, types.SourceServer, entries[0].Source)
	assert.Equal(t, types.LevelError, entries[0].Level)
	mu.Unlock()
}

func TestWatchdog_AdapterUptimeRatioReflectsErrorState(t *testing.T) {
	r := ring.New(10)
	store := proxy.New(10)
	sup := adapter.NewSupervisor(testLogger(), func(*types.LogEntry) {})
	healthy := &toggleAdapter{name: "a", state: types.AdapterRunning}
	broken := &toggleAdapter{name: "b", state: types.AdapterError}
	sup.Register(healthy)
	sup.Register(broken)

	w := New(r, store, sup, time.Hour, nil, testLogger())
	w.tick()

	snap := w.Snapshot()
	var uptime *types.Objective
	for i := range snap.Objectives {
		if snap.Objectives[i].Name == "adapter_uptime_ratio" {
			uptime = &snap.Objectives[i]
		}
	}
	require.NotNil(t, uptime)
	assert.InDelta(t, 0.5, uptime.Value, 0.01)
	assert.Equal(t, types.ObjectiveWarning, uptime.Status)
}
