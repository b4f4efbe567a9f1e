package proxysink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"quern/pkg/types"
)

const killGrace = 5 * time.Second

// Adapter supervises the mitmproxy child process itself. It honors the
// framework's Adapter contract so the watchdog can restart it like any
// other source, even though its real "emission" path is the addon's HTTP
// callback into internal/proxy, not a parsed stdout line.
type Adapter struct {
	addonScript string
	port        int
	secretFile  string
	log         *logrus.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	state   types.AdapterStatusState
	detail  string
	restarts int
}

// New creates the mitmproxy supervisor. addonScript is the path to the
// Quern-provided addon; secretFile is where the shared callback secret is
// written at proxy start (see internal/proxy for the reader side).
func New(addonScript string, port int, secretFile string, log *logrus.Logger) *Adapter {
	return &Adapter{addonScript: addonScript, port: port, secretFile: secretFile, log: log, state: types.AdapterStopped}
}

func (a *Adapter) Name() string { return "proxy" }

// Start spawns mitmdump with the Quern addon loaded. It returns once the
// process has been launched; Status reflects whether it's still alive.
func (a *Adapter) Start(ctx context.Context, emit types.EmitFunc) error {
	cmd := exec.CommandContext(ctx, "mitmdump",
		"-s", a.addonScript,
		"-p", fmt.Sprintf("%d", a.port),
		"--set", fmt.Sprintf("quern_secret_file=%s", a.secretFile),
	)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		a.setError(err)
		return err
	}
	if err := cmd.Start(); err != nil {
		a.setError(err)
		return err
	}

	a.mu.Lock()
	a.cmd = cmd
	a.state = types.AdapterRunning
	a.mu.Unlock()

	go a.drainStderr(stderr)
	go a.waitLoop(ctx, cmd)
	return nil
}

func (a *Adapter) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		a.log.WithField("component", "mitmproxy").Debug(scanner.Text())
	}
}

func (a *Adapter) waitLoop(ctx context.Context, cmd *exec.Cmd) {
	err := cmd.Wait()
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
		a.detail = "mitmproxy exited 0 while still enabled"
	}
	a.restarts++
	a.mu.Unlock()
}

func (a *Adapter) setError(err error) {
	a.mu.Lock()
	a.state = types.AdapterError
	a.detail = err.Error()
	a.mu.Unlock()
}

// Stop sends SIGTERM, escalating to SIGKILL after killGrace.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cmd := a.cmd
	a.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(killGrace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		_ = cmd.Process.Kill()
	}
	a.mu.Lock()
	a.state = types.AdapterStopped
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Status() types.AdapterStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return types.AdapterStatus{Name: "proxy", State: a.state, Detail: a.detail, Restarts: a.restarts}
}

// Reconfigure is a no-op: the proxy process itself has no adapter-level
// filter (intercept/mock registries are configured through internal/proxy).
func (a *Adapter) Reconfigure(types.AdapterFilter) error { return nil }
