// Package devicelog implements the syslog, oslog, and simulator-log
// adapters: each spawns a platform tool that streams text lines for one
// device and parses them into LogEntry values. The three share this one
// implementation, parameterized by Kind and CommandBuilder, because their
// lifecycle and parsing shape are identical — only the spawned tool and its
// argument list differ.
package devicelog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"quern/internal/adapter"
	"quern/pkg/types"
)

// Kind selects which concrete adapter this instance is, for status
// reporting and log field tagging.
type Kind string

const (
	KindSyslog    Kind = "syslog"
	KindOSLog     Kind = "oslog"
	KindSimulator Kind = "simulator"
)

// Source maps a Kind to the LogEntry source tag callers should pair with
// DefaultLineParser when building an adapter of this kind.
func (k Kind) Source() types.Source {
	switch k {
	case KindSyslog:
		return types.SourceSyslog
	case KindSimulator:
		return types.SourceSimulator
	default:
		return types.SourceOSLog
	}
}

// CommandBuilder returns the platform tool invocation (argv[0], args...) to
// stream logs for udid. Implementations live alongside the adapters that
// construct this package (e.g. "xcrun simctl spawn <udid> log stream
// --style ndjson ...").
type CommandBuilder func(udid string) (name string, args []string)

// LineParser extracts a LogEntry from one line of the tool's output. It
// must tolerate malformed input by returning nil.
type LineParser func(line string) *types.LogEntry

var lineRe = regexp.MustCompile(`^(?P<ts>.+?)\s+(?P<proc>[^\[\s]+)\[\d+\]\s*:\s*(?P<msg>.*)$`)

// DefaultLineParser is a reasonable fallback for plain syslog-style lines
// ("Mon Jan 2 15:04:05 ProcName[123]: message"). Concrete adapters may
// supply a stricter parser (e.g. for oslog's ndjson stream).
func DefaultLineParser(source types.Source) LineParser {
	return func(line string) *types.LogEntry {
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			if line == "" {
				return nil
			}
			return &types.LogEntry{
				Timestamp: time.Now(),
				Source:    source,
				Level:     types.LevelInfo,
				Message:   line,
				Raw:       line,
			}
		}
		return &types.LogEntry{
			Timestamp: time.Now(),
			Source:    source,
			Process:   m[2],
			Level:     types.LevelInfo,
			Message:   m[3],
			Raw:       line,
		}
	}
}

// Adapter streams one device's logs for the process lifetime of its child,
// applying the in-process filter (process, substring excludes) before emit
// on every line. When the child exits, the adapter moves to the error state
// and stays there; it does not respawn the child.
type Adapter struct {
	kind    Kind
	udid    string
	build   CommandBuilder
	parse   LineParser
	log     *logrus.Logger
	runner  *adapter.SubprocessRunner

	mu      sync.Mutex
	filter  types.AdapterFilter
	state   types.AdapterStatusState
	detail  string
	restarts int32
}

// New creates a device-log adapter for udid using build to construct the
// tool invocation and parse to interpret each line.
func New(kind Kind, udid string, build CommandBuilder, parse LineParser, log *logrus.Logger) *Adapter {
	return &Adapter{
		kind:   kind,
		udid:   udid,
		build:  build,
		parse:  parse,
		log:    log,
		runner: adapter.NewSubprocessRunner(log),
		state:  types.AdapterStopped,
	}
}

// Name uniquely identifies this adapter instance among others of the same
// kind, since adapters are started/stopped per device.
func (a *Adapter) Name() string {
	return fmt.Sprintf("%s:%s", a.kind, a.udid)
}

// Start launches the streaming subprocess in the background and returns
// immediately with a nil error; a spawn failure, like Run's eventual exit,
// is reported through Status, not through this return value.
func (a *Adapter) Start(ctx context.Context, emit types.EmitFunc) error {
	a.mu.Lock()
	a.state = types.AdapterRunning
	a.mu.Unlock()

	go a.runLoop(ctx, emit)
	return nil
}

func (a *Adapter) runLoop(ctx context.Context, emit types.EmitFunc) {
	name, args := a.build(a.udid)
	wrappedEmit := func(e *types.LogEntry) {
		if a.excluded(e) {
			return
		}
		e.DeviceUDID = a.udid
		emit(e)
	}

	err := a.runner.Run(ctx, name, args, a.parseLine, wrappedEmit)
	if ctx.Err() != nil {
		a.mu.Lock()
		a.state = types.AdapterStopped
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	a.state = types.AdapterError
	if err != nil {
		a.detail = err.Error()
	} else {
		a.detail = "child exited 0 while still enabled"
	}
	atomic.AddInt32(&a.restarts, 1)
	a.mu.Unlock()
}

func (a *Adapter) parseLine(line string) *types.LogEntry {
	return a.parse(line)
}

func (a *Adapter) excluded(e *types.LogEntry) bool {
	a.mu.Lock()
	f := a.filter
	a.mu.Unlock()
	if f.Process != "" && e.Process != f.Process {
		return true
	}
	for _, sub := range f.ExcludeSubstrs {
		if sub != "" && strings.Contains(e.Message, sub) {
			return true
		}
	}
	return false
}

// Stop terminates the child process (SIGTERM, then SIGKILL after the
// runner's grace period) and marks the adapter stopped.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runner.Stop()
	a.mu.Lock()
	a.state = types.AdapterStopped
	a.mu.Unlock()
	return nil
}

// Status reports the adapter's current lifecycle state and drop counters.
func (a *Adapter) Status() types.AdapterStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return types.AdapterStatus{
		Name:         a.Name(),
		State:        a.state,
		Detail:       a.detail,
		Restarts:     int(atomic.LoadInt32(&a.restarts)),
		DroppedLines: a.runner.Dropped(),
	}
}

// Reconfigure replaces the in-process filter applied before emit.
func (a *Adapter) Reconfigure(filter types.AdapterFilter) error {
	a.mu.Lock()
	a.filter = filter
	a.mu.Unlock()
	return nil
}
