// Package crash implements the crash-watcher adapter: it watches a known
// crash-report directory, and on each new file, tails it until it quiesces,
// parses the exception/signal/thread summary, and emits one crash LogEntry
// while leaving the raw file on disk as the source of truth.
package crash

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nxadm/tail"
	"github.com/sirupsen/logrus"

	"quern/pkg/types"
)

// Report wraps a parsed CrashReport.
type Report struct {
	types.CrashReport
}

// Adapter watches Dir for new crash files.
type Adapter struct {
	dir string
	log *logrus.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	state    types.AdapterStatusState
	detail   string
	restarts int

	retention *Retention

	onReport func(types.CrashReport) // set by SetReportHandler
}

// New creates a crash-watcher adapter over dir, with retention capping the
// total bytes and age of files kept on disk.
func New(dir string, retention *Retention, log *logrus.Logger) *Adapter {
	return &Adapter{dir: dir, retention: retention, log: log, state: types.AdapterStopped}
}

func (a *Adapter) Name() string { return "crash" }

// SetReportHandler registers fn to be called with every parsed crash report,
// in addition to the LogEntry already emitted through the pipeline. The API
// layer uses this to maintain a queryable recent-crashes list.
func (a *Adapter) SetReportHandler(fn func(types.CrashReport)) {
	a.mu.Lock()
	a.onReport = fn
	a.mu.Unlock()
}

// Start begins watching the directory in the background. Quiescence (no
// writes for a short interval) gates parsing so a crash file being written
// isn't read half-complete.
func (a *Adapter) Start(ctx context.Context, emit types.EmitFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		a.setError(err)
		return err
	}
	if err := watcher.Add(a.dir); err != nil {
		a.setError(err)
		return err
	}

	a.mu.Lock()
	a.watcher = watcher
	a.state = types.AdapterWatching
	a.mu.Unlock()

	go a.watchLoop(ctx, watcher, emit)
	return nil
}

func (a *Adapter) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, emit types.EmitFunc) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			a.state = types.AdapterStopped
			a.mu.Unlock()
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			go a.handleFile(ctx, ev.Name, emit)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.log.WithError(err).Warn("crash watcher error")
		}
	}
}

// handleFile waits for the file to quiesce (tail stops seeing new lines for
// a short interval), then parses it.
func (a *Adapter) handleFile(ctx context.Context, path string, emit types.EmitFunc) {
	if !quiesce(ctx, path, 500*time.Millisecond) {
		return
	}
	report, err := Parse(path)
	if err != nil {
		a.log.WithError(err).WithField("file", path).Warn("failed to parse crash report")
		return
	}

	entry := &types.LogEntry{
		Timestamp: time.Now(),
		Source:    types.SourceCrash,
		Level:     types.LevelFault,
		Message:   summaryMessage(report),
		Raw:       path,
		DeviceUDID: report.DeviceUDID,
	}
	emit(entry)
	if a.onReport != nil {
		a.onReport(report)
	}
	if a.retention != nil {
		a.retention.Enforce(filepath.Dir(path))
	}
}

func summaryMessage(r types.CrashReport) string {
	if r.ExceptionType != "" {
		return "crash: " + r.ExceptionType
	}
	if r.Signal != "" {
		return "crash: signal " + r.Signal
	}
	return "crash report parsed: " + filepath.Base(r.Path)
}

// quiesce blocks until path has had no size change for quietFor, or ctx is
// cancelled (in which case it returns false).
func quiesce(ctx context.Context, path string, quietFor time.Duration) bool {
	t, err := tail.TailFile(path, tail.Config{Follow: true, ReOpen: false, MustExist: false})
	if err != nil {
		return true // file already complete / unreadable by tail; proceed to parse
	}
	defer t.Stop()

	timer := time.NewTimer(quietFor)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.Lines:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quietFor)
		case <-timer.C:
			return true
		}
	}
}

func (a *Adapter) setError(err error) {
	a.mu.Lock()
	a.state = types.AdapterError
	a.detail = err.Error()
	a.restarts++
	a.mu.Unlock()
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.state = types.AdapterStopped
	return nil
}

func (a *Adapter) Status() types.AdapterStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return types.AdapterStatus{Name: "crash", State: a.state, Detail: a.detail, Restarts: a.restarts}
}

// Reconfigure is a no-op: the crash watcher has no per-process filter, it
// watches one directory unconditionally.
func (a *Adapter) Reconfigure(types.AdapterFilter) error { return nil }
