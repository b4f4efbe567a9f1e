// Package adapter is the source adapter framework: a uniform lifecycle
// contract for log producers (name/start/stop/status/reconfigure), a
// supervisor that owns each adapter's cancellation handle and restart
// policy, and a subprocess-streaming helper for the adapters that spawn a
// platform tool and parse its stdout line by line.
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quern/internal/metrics"
	"quern/pkg/types"
)

type managed struct {
	adapter types.Adapter
	cancel  context.CancelFunc
	backoff *Backoff
	started time.Time
}

// Supervisor owns a set of adapters, restarting subprocess-backed ones per
// a capped exponential backoff and fanning out a shutdown signal to all of
// them on daemon exit. It never touches the ring or flow store directly:
// all emission happens through the emit callback each adapter was started
// with.
type Supervisor struct {
	log *logrus.Logger

	mu       sync.Mutex
	adapters map[string]*managed
	emit     types.EmitFunc
}

// NewSupervisor creates a supervisor that forwards every adapter's emitted
// entries to emit.
func NewSupervisor(log *logrus.Logger, emit types.EmitFunc) *Supervisor {
	return &Supervisor{log: log, adapters: make(map[string]*managed), emit: emit}
}

// Register adds an adapter under the supervisor's management. It does not
// start the adapter; call Start to launch all registered adapters.
func (s *Supervisor) Register(a types.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[a.Name()] = &managed{adapter: a, backoff: NewBackoff()}
}

// StartOne registers and immediately launches a adapter under parent,
// for adapters started after the supervisor's initial Start call (e.g. the
// proxy, toggled on and off at runtime by the API). Returns the Start error
// the adapter itself reported, if any; the restart policy still applies to
// later failures exactly as it does for boot-time adapters.
func (s *Supervisor) StartOne(parent context.Context, a types.Adapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &managed{adapter: a, backoff: NewBackoff()}
	s.adapters[a.Name()] = m
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.started = time.Now()
	err := a.Start(ctx, s.emit)
	if err != nil {
		s.log.WithError(err).WithField("adapter", a.Name()).Warn("adapter failed to start")
		s.scheduleRestart(parent, a.Name(), m)
	}
	return err
}

// Start launches every registered adapter. Each adapter's Start must return
// promptly after kicking off its background work; errors from Start are
// logged and trigger the restart policy.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, m := range s.adapters {
		s.launch(ctx, name, m)
	}
}

func (s *Supervisor) launch(parent context.Context, name string, m *managed) {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.started = time.Now()
	if err := m.adapter.Start(ctx, s.emit); err != nil {
		s.log.WithError(err).WithField("adapter", name).Warn("adapter failed to start")
		s.scheduleRestart(parent, name, m)
	}
}

// scheduleRestart waits out the backoff delay in its own goroutine, then
// relaunches the adapter, unless the parent context has already been
// cancelled (daemon shutting down).
func (s *Supervisor) scheduleRestart(parent context.Context, name string, m *managed) {
	delay := m.backoff.Next()
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-parent.Done():
			return
		case <-t.C:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.adapters[name]; ok && cur == m {
			s.log.WithField("adapter", name).Info("restarting adapter")
			metrics.RecordAdapterRestart(name)
			s.launch(parent, name, m)
		}
	}()
}

// NotifyExit applies the restart policy to the named adapter after its
// child exits. expected marks a deliberate stop (Stop was called) and never
// triggers a restart. No adapter in this repository calls it: a child that
// exits after a successful Start leaves its adapter in the error state and
// is not restarted; only a failed Start goes through scheduleRestart.
func (s *Supervisor) NotifyExit(parent context.Context, name string, expected bool) {
	s.mu.Lock()
	m, ok := s.adapters[name]
	if !ok || expected {
		s.mu.Unlock()
		return
	}
	m.backoff.MarkHealthy(m.started)
	s.mu.Unlock()
	s.scheduleRestart(parent, name, m)
}

// Statuses returns the current status of every registered adapter, in
// registration order undefined (callers sort if needed), for GET
// /api/v1/logs/sources.
func (s *Supervisor) Statuses() []types.AdapterStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AdapterStatus, 0, len(s.adapters))
	for _, m := range s.adapters {
		st := m.adapter.Status()
		out = append(out, st)
		for _, state := range []types.AdapterStatusState{types.AdapterRunning, types.AdapterWatching, types.AdapterStopped, types.AdapterError} {
			value := 0.0
			if st.State == state {
				value = 1.0
			}
			metrics.AdapterState.WithLabelValues(st.Name, string(state)).Set(value)
		}
	}
	return out
}

// Reconfigure forwards a filter change to the named adapter.
func (s *Supervisor) Reconfigure(name string, filter types.AdapterFilter) error {
	s.mu.Lock()
	m, ok := s.adapters[name]
	s.mu.Unlock()
	if !ok {
		return errAdapterNotFound(name)
	}
	return m.adapter.Reconfigure(filter)
}

// StopOne cancels and stops a single adapter by name and removes it from
// management, so a later failure never triggers the restart policy. Used
// for adapters toggled off deliberately at runtime (e.g. the proxy via
// `POST /api/v1/proxy/stop`), as opposed to Stop's whole-daemon shutdown.
func (s *Supervisor) StopOne(deadline context.Context, name string) error {
	s.mu.Lock()
	m, ok := s.adapters[name]
	if ok {
		delete(s.adapters, name)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	return m.adapter.Stop(deadline)
}

// Stop cancels every adapter and waits up to deadline for each Stop to
// return, joining them concurrently so one slow adapter doesn't delay the
// others.
func (s *Supervisor) Stop(deadline context.Context) {
	s.mu.Lock()
	adapters := make([]*managed, 0, len(s.adapters))
	for _, m := range s.adapters {
		adapters = append(adapters, m)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range adapters {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.cancel != nil {
				m.cancel()
			}
			if err := m.adapter.Stop(deadline); err != nil {
				s.log.WithError(err).WithField("adapter", m.adapter.Name()).Warn("adapter stop error")
			}
		}()
	}
	wg.Wait()
}
