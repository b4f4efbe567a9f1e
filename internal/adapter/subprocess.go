package adapter

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"quern/pkg/types"
)

const (
	initialScanBuffer = 64 * 1024
	maxScanBuffer     = 1024 * 1024
	killGrace         = 3 * time.Second
)

// ParseFunc turns one line of subprocess output into a LogEntry, or returns
// nil if the line carries no entry (e.g. a blank line, a framing marker).
type ParseFunc func(line string) *types.LogEntry

// SubprocessRunner spawns a child process, reads its stdout line by line
// with a bounded buffer, and hands each parsed entry to emit. It never lets
// a parse panic or a saturated pipeline reach the caller: overflow and
// backpressure are both counted, not fatal.
type SubprocessRunner struct {
	log    *logrus.Logger
	dropped int64

	mu      sync.Mutex
	cmd     *exec.Cmd
	running bool
}

// NewSubprocessRunner creates a runner that logs diagnostics through log.
func NewSubprocessRunner(log *logrus.Logger) *SubprocessRunner {
	return &SubprocessRunner{log: log}
}

// Run spawns name with args under ctx, parses stdout with parse, and
// delivers non-nil results to emit via the pipeline callback. It blocks
// until the child exits or ctx is cancelled, and returns the child's exit
// error (nil for a clean exit). Stderr is drained for diagnostics only.
func (r *SubprocessRunner) Run(ctx context.Context, name string, args []string, parse ParseFunc, emit func(*types.LogEntry)) error {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	r.mu.Lock()
	r.cmd = cmd
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.drainStderr(stderr)
	}()

	r.scanLines(stdout, parse, emit)
	wg.Wait()

	return cmd.Wait()
}

func (r *SubprocessRunner) scanLines(stdout io.Reader, parse ParseFunc, emit func(*types.LogEntry)) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, initialScanBuffer), maxScanBuffer)
	for scanner.Scan() {
		line := scanner.Text()
		var entry *types.LogEntry
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.WithField("panic", p).Warn("subprocess line parser panicked; line skipped")
				}
			}()
			entry = parse(line)
		}()
		if entry == nil {
			continue
		}
		if !r.trySend(entry, emit) {
			atomic.AddInt64(&r.dropped, 1)
		}
	}
	if err := scanner.Err(); err != nil {
		r.log.WithError(err).Debug("subprocess stdout scan ended with error")
	}
}

// trySend hands entry to emit without blocking: emit forwards straight into
// the classifier/dedup/ring pipeline, which is O(1) and non-blocking by
// design, so this never actually contends — the guard exists so a future
// slow emit can't wedge the reader goroutine.
func (r *SubprocessRunner) trySend(entry *types.LogEntry, emit func(*types.LogEntry)) (sent bool) {
	done := make(chan struct{})
	go func() {
		emit(entry)
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(time.Second):
		return false
	}
}

func (r *SubprocessRunner) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, initialScanBuffer), maxScanBuffer)
	for scanner.Scan() {
		r.log.WithField("stream", "stderr").Debug(scanner.Text())
	}
}

// Dropped returns the number of lines dropped for backpressure so far.
func (r *SubprocessRunner) Dropped() int {
	return int(atomic.LoadInt64(&r.dropped))
}

// Stop sends SIGTERM to the running child and escalates to SIGKILL if it
// hasn't exited within killGrace. A no-op if nothing is running.
func (r *SubprocessRunner) Stop() {
	r.mu.Lock()
	cmd := r.cmd
	running := r.running
	r.mu.Unlock()
	if !running || cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(killGrace)
	defer timer.Stop()
	for range timer.C {
		r.mu.Lock()
		stillRunning := r.running
		r.mu.Unlock()
		if !stillRunning {
			return
		}
		_ = cmd.Process.Kill()
		return
	}
}
