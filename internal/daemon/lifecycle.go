package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"quern/internal/statefile"
	"quern/pkg/qerrors"
	"quern/pkg/types"
)

const (
	healthProbeTimeout = 3 * time.Second
	adapterStopTimeout = 10 * time.Second
	proxyKillGrace     = 5 * time.Second
)

// CheckAlreadyRunning reads the state file and, if it names a PID that is
// alive and whose /health answers within healthProbeTimeout, returns an
// AlreadyRunning error. A missing, stale, or unhealthy state file is not an
// error: the caller proceeds to bind its own listener and overwrite it.
func CheckAlreadyRunning(home string) error {
	state, err := statefile.ReadState(home)
	if err != nil || state == nil {
		return nil
	}
	alive, err := process.PidExists(int32(state.PID))
	if err != nil || !alive {
		return nil
	}

	client := http.Client{Timeout: healthProbeTimeout}
	url := fmt.Sprintf("http://127.0.0.1:%d/health", state.HTTPPort)
	resp, err := client.Get(url)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	return qerrors.Newf(qerrors.AlreadyRunning, "quern is already running (pid %d, port %d)", state.PID, state.HTTPPort)
}

// BindListener scans upward from port for a free one, trying up to maxTries
// addresses on loopback. It returns PortsExhausted if none are free.
func BindListener(port, maxTries int) (net.Listener, error) {
	if maxTries < 1 {
		maxTries = 1
	}
	var lastErr error
	for i := 0; i < maxTries; i++ {
		addr := fmt.Sprintf("127.0.0.1:%d", port+i)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, qerrors.Wrap(qerrors.PortsExhausted, lastErr, fmt.Sprintf("no free port in range %d-%d", port, port+maxTries-1))
}

func listenerPort(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}

// quernDaemonizedEnv is set in the child's environment by Daemonize so the
// re-exec'd process knows not to fork again.
const quernDaemonizedEnv = "QUERN_DAEMONIZED"

// Daemonize re-execs the current binary with the same arguments, detached
// into its own session with stdout/stderr redirected to logPath, and exits
// the parent with status 0. It is a no-op (returns false, nil) if the
// process is already the detached child.
func Daemonize(logPath string) (detached bool, err error) {
	if os.Getenv(quernDaemonizedEnv) == "1" {
		return false, nil
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, err
	}
	defer logFile.Close()

	exe, err := os.Executable()
	if err != nil {
		return false, err
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), quernDaemonizedEnv+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return false, err
	}
	return true, nil
}

// Serve binds handler to a listener found by scanning the configured port
// range, writes the state file, and blocks until SIGINT/SIGTERM, then runs
// an ordered graceful shutdown. It returns the exit code the process should
// use.
func (d *Daemon) Serve(ctx context.Context, handler http.Handler) int {
	if err := CheckAlreadyRunning(d.Home); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitAlreadyRunning
	}

	ln, err := BindListener(d.Config.Server.Port, d.Config.Server.PortScanMax)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitPortsExhausted
	}
	d.mu.Lock()
	d.listener = ln
	d.httpServer = &http.Server{Handler: handler}
	d.mu.Unlock()

	d.mu.Lock()
	d.rootCtx = ctx
	d.mu.Unlock()

	d.Supervisor.Start(ctx)
	if d.FilterReloader != nil {
		if err := d.FilterReloader.Start(); err != nil {
			d.Log.WithError(err).Warn("failed to start filter hot reload")
		}
	}
	go d.Watchdog.Run(ctx)
	if d.Metrics != nil {
		d.Metrics.Start()
	}
	d.startedAt = time.Now()

	if d.Config.Proxy.Enabled {
		if err := d.StartProxy(ctx); err != nil {
			d.Log.WithError(err).Warn("failed to auto-start proxy at boot")
		}
	}

	port := listenerPort(ln)
	state := types.ServerState{
		PID:          os.Getpid(),
		HTTPPort:     port,
		ProxyPort:    d.Config.Proxy.Port,
		ProxyEnabled: d.Config.Proxy.Enabled,
		ProxyRunning: d.Config.Proxy.Enabled,
		StartedAt:    d.startedAt,
		APIKey:       d.APIKey,
	}
	if err := statefile.WriteState(d.Home, state); err != nil {
		d.Log.WithError(err).Error("failed to write state file")
		ln.Close()
		return ExitError
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() {
		d.Log.WithField("addr", ln.Addr().String()).Info("quern listening")
		serveErrCh <- d.httpServer.Serve(ln)
	}()

	select {
	case <-sigCh:
		d.Log.Info("shutdown signal received")
	case <-ctx.Done():
		d.Log.Info("parent context cancelled")
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			d.Log.WithError(err).Error("http server error")
		}
	}

	d.shutdown()
	return ExitOK
}

// shutdown stops every component in order: HTTP first so no new request is
// admitted, then adapters and the proxy subprocess, then device claims this
// process owns, then the state file.
func (d *Daemon) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), adapterStopTimeout+proxyKillGrace+5*time.Second)
	defer cancel()

	if d.httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		if err := d.httpServer.Shutdown(httpCtx); err != nil {
			d.Log.WithError(err).Warn("http server shutdown error")
		}
	}

	adapterDeadline, adapterCancel := context.WithTimeout(shutdownCtx, adapterStopTimeout)
	defer adapterCancel()
	d.Supervisor.Stop(adapterDeadline)
	d.Proxy.Replay.CloseIdleConnections()
	if d.FilterReloader != nil {
		d.FilterReloader.Stop()
	}

	if d.Metrics != nil {
		metricsCtx, metricsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer metricsCancel()
		if err := d.Metrics.Stop(metricsCtx); err != nil {
			d.Log.WithError(err).Warn("metrics server shutdown error")
		}
	}

	if d.Tracing != nil {
		tracingCtx, tracingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer tracingCancel()
		if err := d.Tracing.Shutdown(tracingCtx); err != nil {
			d.Log.WithError(err).Warn("tracing shutdown error")
		}
	}

	if released, err := d.Devices.ReleaseAll(); err != nil {
		d.Log.WithError(err).Warn("failed to release device claims on shutdown")
	} else if len(released) > 0 {
		d.Log.WithField("devices", released).Info("released device claims on shutdown")
	}

	if err := statefile.RemoveProxyControl(d.Home); err != nil {
		d.Log.WithError(err).Warn("failed to remove proxy control file")
	}

	if err := statefile.RemoveState(d.Home); err != nil {
		d.Log.WithError(err).Warn("failed to remove state file")
	}

	d.Log.Info("quern stopped")
}
