// Package metrics exposes Quern's Prometheus surface: ring depth and drop
// rate, dedup suppression rate, adapter restart counts, proxy flow store
// size, and HTTP request latency. One small, flat set of collectors rather
// than a sprawl of per-subsystem files, since Quern has far fewer moving
// parts than a multi-sink log shipper.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	RingDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quern_ring_depth",
		Help: "Current number of entries held in the ring buffer",
	})

	RingDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quern_ring_drops_total",
		Help: "Total entries evicted from the ring buffer for capacity",
	})

	DedupSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quern_dedup_suppressed_total",
		Help: "Total log entries suppressed as duplicates within the dedup window",
	}, []string{"source"})

	AdapterRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quern_adapter_restarts_total",
		Help: "Total restart attempts issued by the adapter supervisor",
	}, []string{"adapter"})

	AdapterState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quern_adapter_state",
		Help: "Current adapter state (1 = running/watching, 0 otherwise)",
	}, []string{"adapter", "state"})

	FlowStoreSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quern_flow_store_size",
		Help: "Current number of flows held in the proxy flow store",
	})

	FlowsCapturedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quern_flows_captured_total",
		Help: "Total proxy flows recorded, by outcome",
	}, []string{"outcome"})

	DevicesClaimed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quern_devices_claimed",
		Help: "Current number of claimed devices in the device pool",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quern_http_request_duration_seconds",
		Help:    "HTTP request latency by route, method and status text",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// RecordDedupSuppressed increments the suppression counter for source.
func RecordDedupSuppressed(source string) {
	DedupSuppressedTotal.WithLabelValues(source).Inc()
}

// RecordAdapterRestart increments the restart counter for an adapter name.
func RecordAdapterRestart(adapter string) {
	AdapterRestartsTotal.WithLabelValues(adapter).Inc()
}

// RecordFlowCaptured increments the flow counter for an outcome
// ("intercepted", "mocked", "passthrough").
func RecordFlowCaptured(outcome string) {
	FlowsCapturedTotal.WithLabelValues(outcome).Inc()
}

// Server serves /metrics on its own listener, separate from the main API so
// scraping never competes with the request-serving mux for middleware.
type Server struct {
	server *http.Server
	log    *logrus.Logger
}

var registerOnce sync.Once

// NewServer builds a metrics server bound to addr. Collectors are
// package-level promauto vars, already registered to the default registry
// at init time; registerOnce exists only to make repeated NewServer calls
// in tests safe.
func NewServer(addr string, log *logrus.Logger) *Server {
	registerOnce.Do(func() {})
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		log:    log,
	}
}

// Start begins serving in the background. Listen errors other than a clean
// shutdown are logged, not returned, matching how the daemon treats its
// other non-critical background servers.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server error")
		}
	}()
}

// Stop shuts the metrics server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
