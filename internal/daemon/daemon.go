// Package daemon wires the ring buffer, classify pipeline, adapter
// supervisor, proxy engine, and device pool into one process lifecycle:
// startup idempotency, port-scan bind, fork-detach, and signal-driven
// graceful shutdown with per-component deadlines.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quern/internal/adapter"
	"quern/internal/adapter/crash"
	"quern/internal/adapter/proxysink"
	"quern/internal/classify"
	"quern/internal/config"
	"quern/internal/devicepool"
	"quern/internal/metrics"
	"quern/internal/proxy"
	"quern/internal/ring"
	"quern/internal/statefile"
	"quern/internal/tracing"
	"quern/internal/watchdog"
	"quern/pkg/types"
)

// Process exit codes per the daemon's documented exit contract.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitAlreadyRunning = 2
	ExitPortsExhausted = 3
	ExitConfigError    = 4
)

// Daemon owns every long-lived component the HTTP API and watchdog read
// from. It has no notion of HTTP routes itself: main builds a router around
// it and hands that to Serve once the listener is bound.
type Daemon struct {
	Config *config.Config
	Log    *logrus.Logger
	Home   string

	Ring       *ring.Ring
	Pipeline   *classify.Pipeline
	Supervisor *adapter.Supervisor
	Proxy      *proxy.Engine
	Devices    *devicepool.Pool
	Watchdog   *watchdog.Watchdog
	Metrics    *metrics.Server
	Tracing    *tracing.Manager
	CrashAdapter *crash.Adapter
	FilterReloader *config.FilterReloader

	APIKey      string
	ProxySecret string

	emit types.EmitFunc

	mu           sync.Mutex
	listener     net.Listener
	httpServer   *http.Server
	startedAt    time.Time
	proxyAdapter *proxysink.Adapter
	rootCtx      context.Context
}

// New wires every component from cfg but starts nothing: no listener is
// bound and no adapter is running. The only files it touches are the API
// key, created on first run, and the crash directory when the crash
// adapter is enabled. Call Serve to bring the daemon up.
func New(cfg *config.Config, log *logrus.Logger) (*Daemon, error) {
	home := statefile.Dir(cfg.App.HomeDir)

	apiKey, err := statefile.EnsureAPIKey(home)
	if err != nil {
		return nil, err
	}

	dedupWindow := mustParseDuration(cfg.Ring.DedupWindow, 30*time.Second)
	holdTimeout := mustParseDuration(cfg.Proxy.HoldTimeout, 30*time.Second)
	staleThreshold := mustParseDuration(cfg.DevicePool.StaleThreshold, 30*time.Minute)

	r := ring.New(cfg.Ring.Capacity)
	pipeline := classify.NewPipeline(classify.DefaultRules(), dedupWindow)

	emit := func(e *types.LogEntry) {
		if out, keep := pipeline.Process(e); keep {
			r.Append(out)
		}
	}

	sup := adapter.NewSupervisor(log, emit)
	engine := proxy.NewEngine(cfg.Proxy.MaxFlows, holdTimeout, emit)

	poolPath := filepath.Join(home, "device-pool.json")
	pool := devicepool.New(poolPath, staleThreshold, &devicepool.SimctlPlatform{}, log)

	watchdogInterval := mustParseDuration(cfg.Watchdog.Interval, 5*time.Second)
	wd := watchdog.New(r, engine.Store, sup, watchdogInterval, emit, log)

	var crashAdapter *crash.Adapter
	if cfg.Adapters.Crash {
		if err := os.MkdirAll(cfg.Adapters.CrashDir, 0o755); err != nil {
			return nil, err
		}
		retention := &crash.Retention{
			MaxAge:        mustParseDuration(cfg.Adapters.CrashMaxAge, 168*time.Hour),
			MaxTotalBytes: cfg.Adapters.CrashMaxBytes,
		}
		crashAdapter = crash.New(cfg.Adapters.CrashDir, retention, log)
		sup.Register(crashAdapter)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(fmt.Sprintf("127.0.0.1:%d", cfg.Metrics.Port), log)
	}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.Exporter = cfg.Tracing.Exporter
	tracingCfg.Endpoint = cfg.Tracing.Endpoint
	tracingCfg.Sample = cfg.Tracing.SampleRate
	tracingCfg.Batch = mustParseDuration(cfg.Tracing.BatchTimeout, 5*time.Second)
	tracer, err := tracing.New(tracingCfg, log)
	if err != nil {
		return nil, err
	}

	var filterReloader *config.FilterReloader
	if cfg.Classify.FilterFile != "" {
		filterReloader = config.NewFilterReloader(cfg.Classify.FilterFile, time.Second, log, func(f config.FilterFile) {
			if f.RuleFile != "" {
				if rules, err := classify.LoadRuleFile(f.RuleFile); err != nil {
					log.WithError(err).Warn("classifier rule file reload failed")
				} else {
					pipeline.Classifier.SetRules(rules)
					log.WithField("rules", len(rules)).Info("classifier rules reloaded")
				}
			}
			for name, af := range f.Adapters {
				filter := types.AdapterFilter{Process: af.Process, ExcludeSubstrs: af.ExcludeSubstrs}
				if err := sup.Reconfigure(name, filter); err != nil {
					log.WithError(err).WithField("adapter", name).Warn("adapter filter reload failed")
				}
			}
		})
	}

	d := &Daemon{
		Config:     cfg,
		Log:        log,
		Home:       home,
		Ring:       r,
		Pipeline:   pipeline,
		Supervisor: sup,
		Proxy:      engine,
		Devices:    pool,
		Watchdog:   wd,
		Metrics:    metricsServer,
		Tracing:    tracer,
		CrashAdapter: crashAdapter,
		FilterReloader: filterReloader,
		APIKey:     apiKey,
		emit:       emit,
	}
	return d, nil
}

func mustParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
