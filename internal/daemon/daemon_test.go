package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/internal/config"
	"quern/internal/statefile"
	"quern/pkg/types"
)

func testConfig(t *testing.T, port int) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.HomeDir = t.TempDir()
	cfg.Server.Port = port
	cfg.Server.PortScanMax = 4
	cfg.Ring.Capacity = 100
	cfg.Ring.DedupWindow = "30s"
	cfg.Proxy.MaxFlows = 100
	cfg.Proxy.HoldTimeout = "1s"
	cfg.DevicePool.StaleThreshold = "30m"
	return cfg
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestBindListenerScansUpwardOnConflict(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()
	port := blocker.Addr().(*net.TCPAddr).Port

	ln, err := BindListener(port, 4)
	require.NoError(t, err)
	defer ln.Close()
	assert.NotEqual(t, port, listenerPort(ln))
}

func TestBindListenerExhaustsRange(t *testing.T) {
	var blockers []net.Listener
	defer func() {
		for _, b := range blockers {
			b.Close()
		}
	}()

	first, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	blockers = append(blockers, first)
	port := first.Addr().(*net.TCPAddr).Port

	for i := 1; i < 3; i++ {
		b, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port+i))
		if err != nil {
			continue
		}
		blockers = append(blockers, b)
	}

	_, err = BindListener(port, 1)
	assert.Error(t, err)
}

func TestCheckAlreadyRunningNoStateFileIsNotAnError(t *testing.T) {
	home := t.TempDir()
	assert.NoError(t, CheckAlreadyRunning(home))
}

func TestCheckAlreadyRunningDeadPIDIsNotAnError(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, statefile.WriteState(home, types.ServerState{PID: 1 << 30, HTTPPort: 9100}))
	assert.NoError(t, CheckAlreadyRunning(home))
}

func TestCheckAlreadyRunningLiveHealthyInstanceIsAlreadyRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().(*net.TCPAddr)
	home := t.TempDir()
	require.NoError(t, statefile.WriteState(home, types.ServerState{PID: os.Getpid(), HTTPPort: addr.Port}))

	err := CheckAlreadyRunning(home)
	assert.Error(t, err)
}

func TestServeWritesAndRemovesStateFile(t *testing.T) {
	cfg := testConfig(t, 0)
	d, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- d.Serve(ctx, http.NewServeMux())
	}()

	require.Eventually(t, func() bool {
		s, err := statefile.ReadState(cfg.App.HomeDir)
		return err == nil && s != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case code := <-done:
		assert.Equal(t, ExitOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}

	s, err := statefile.ReadState(cfg.App.HomeDir)
	require.NoError(t, err)
	assert.Nil(t, s, "state file should be removed on clean shutdown")
}

func TestServeRefusesWhenAlreadyRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := srv.Listener.Addr().(*net.TCPAddr)

	cfg := testConfig(t, 0)
	require.NoError(t, statefile.WriteState(cfg.App.HomeDir, types.ServerState{PID: os.Getpid(), HTTPPort: addr.Port}))

	d, err := New(cfg, testLogger())
	require.NoError(t, err)

	code := d.Serve(context.Background(), http.NewServeMux())
	assert.Equal(t, ExitAlreadyRunning, code)
}

func TestDaemonizeIsNoopWhenAlreadyDetached(t *testing.T) {
	os.Setenv(quernDaemonizedEnv, "1")
	defer os.Unsetenv(quernDaemonizedEnv)

	detached, err := Daemonize(filepath.Join(t.TempDir(), "server.log"))
	require.NoError(t, err)
	assert.False(t, detached)
}
