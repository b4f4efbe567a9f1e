package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"quern/internal/config"
	"quern/internal/daemon"
)

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return bytes.NewReader(data)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.HomeDir = t.TempDir()
	cfg.Server.Port = 0
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

func testServer(t *testing.T) (*daemon.Daemon, *httptest.Server) {
	t.Helper()
	d, err := daemon.New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	handler := New(d)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return d, srv
}
