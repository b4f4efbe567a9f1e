// Package api implements Quern's HTTP/SSE surface: the full route table in
// spec.md §6, a uniform JSON error envelope, SSE log streaming, long-poll
// endpoints bounded at 60 s, and the addon-internal flow callback gated by
// its own shared secret instead of the ordinary API key.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"quern/internal/daemon"
)

const maxLongPollTimeout = 60 * time.Second

// Server holds everything the route handlers close over: the daemon (and
// therefore every component it wires) plus the two small stores the API
// layer owns that nothing below it keeps.
type Server struct {
	d      *daemon.Daemon
	builds *BuildStore
	crashes *CrashStore
}

// New builds the full mux.Router for d, wiring every route in spec.md §6
// behind the shared middleware chain (auth, rate limit, gzip, tracing,
// metrics, request logging).
func New(d *daemon.Daemon) http.Handler {
	s := &Server{d: d, builds: NewBuildStore(), crashes: NewCrashStore()}
	if d.CrashAdapter != nil {
		d.CrashAdapter.SetReportHandler(s.crashes.Add)
	}

	r := mux.NewRouter()
	limiter := rate.NewLimiter(rate.Limit(200), 400)

	r.Use(loggingMiddleware(d.Log))
	r.Use(rateLimitMiddleware(limiter))
	r.Use(authMiddleware(d.APIKey))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.route(r, "/api/v1/logs/query", http.MethodGet, "logs.query", s.handleLogsQuery)
	s.route(r, "/api/v1/logs/stream", http.MethodGet, "logs.stream", s.handleLogsStream)
	s.route(r, "/api/v1/logs/summary", http.MethodGet, "logs.summary", s.handleLogsSummary)
	s.route(r, "/api/v1/logs/errors", http.MethodGet, "logs.errors", s.handleLogsErrors)
	s.route(r, "/api/v1/logs/sources", http.MethodGet, "logs.sources", s.handleLogsSources)
	s.route(r, "/api/v1/logs/filter", http.MethodPost, "logs.filter", s.handleLogsFilter)

	s.route(r, "/api/v1/builds/parse", http.MethodPost, "builds.parse", s.handleBuildsParse)
	s.route(r, "/api/v1/builds/latest", http.MethodGet, "builds.latest", s.handleBuildsLatest)

	s.route(r, "/api/v1/crashes/latest", http.MethodGet, "crashes.latest", s.handleCrashesLatest)

	s.route(r, "/api/v1/proxy/flows", http.MethodGet, "proxy.flows.list", s.handleFlowsList)
	s.route(r, "/api/v1/proxy/flows/{id}", http.MethodGet, "proxy.flows.get", s.handleFlowGet)
	s.route(r, "/api/v1/proxy/flows/wait", http.MethodPost, "proxy.flows.wait", s.handleFlowsWait)
	s.route(r, "/api/v1/proxy/flows/summary", http.MethodGet, "proxy.flows.summary", s.handleFlowsSummary)
	s.route(r, "/api/v1/proxy/start", http.MethodPost, "proxy.start", s.handleProxyStart)
	s.route(r, "/api/v1/proxy/stop", http.MethodPost, "proxy.stop", s.handleProxyStop)
	s.route(r, "/api/v1/proxy/intercept", http.MethodGet, "proxy.intercept.get", s.handleInterceptGet)
	s.route(r, "/api/v1/proxy/intercept", http.MethodPost, "proxy.intercept.set", s.handleInterceptSet)
	s.route(r, "/api/v1/proxy/intercept", http.MethodDelete, "proxy.intercept.clear", s.handleInterceptClear)
	s.route(r, "/api/v1/proxy/intercept/held", http.MethodGet, "proxy.intercept.held", s.handleInterceptHeld)
	s.route(r, "/api/v1/proxy/intercept/release", http.MethodPost, "proxy.intercept.release", s.handleInterceptRelease)
	s.route(r, "/api/v1/proxy/replay/{id}", http.MethodPost, "proxy.replay", s.handleProxyReplay)
	s.route(r, "/api/v1/proxy/mocks", http.MethodGet, "proxy.mocks.list", s.handleMocksList)
	s.route(r, "/api/v1/proxy/mocks", http.MethodPost, "proxy.mocks.create", s.handleMocksCreate)
	s.route(r, "/api/v1/proxy/mocks/{rule_id}", http.MethodPatch, "proxy.mocks.update", s.handleMocksUpdate)
	s.route(r, "/api/v1/proxy/mocks/{rule_id}", http.MethodDelete, "proxy.mocks.delete", s.handleMocksDelete)

	// Addon-internal callback: gated by the proxy control-file secret, not
	// the ordinary API key. authMiddleware above special-cases this exact
	// path so the normal Bearer/X-API-Key check never runs for it.
	internalFlow := proxySecretMiddleware(func() string { return d.ProxySecret })(http.HandlerFunc(s.handleProxyInternalFlow))
	r.Handle("/api/v1/proxy/internal/flow", internalFlow).Methods(http.MethodPost)

	s.route(r, "/api/v1/devices/pool", http.MethodGet, "devices.pool", s.handleDevicesPool)
	s.route(r, "/api/v1/devices/claim", http.MethodPost, "devices.claim", s.handleDevicesClaim)
	s.route(r, "/api/v1/devices/release", http.MethodPost, "devices.release", s.handleDevicesRelease)
	s.route(r, "/api/v1/devices/cleanup", http.MethodPost, "devices.cleanup", s.handleDevicesCleanup)
	s.route(r, "/api/v1/devices/refresh", http.MethodPost, "devices.refresh", s.handleDevicesRefresh)
	s.route(r, "/api/v1/devices/resolve", http.MethodPost, "devices.resolve", s.handleDevicesResolve)
	s.route(r, "/api/v1/devices/ensure", http.MethodPost, "devices.ensure", s.handleDevicesEnsure)

	return r
}

// route registers h at path/method with the per-route middleware stack
// (tracing, metrics, gzip), each wrapping the one before it: gzip is the
// outermost transport concern, metrics measures the traced call, and the
// trace span wraps the handler itself.
func (s *Server) route(r *mux.Router, path, method, name string, h http.HandlerFunc) {
	wrapped := http.Handler(h)
	wrapped = tracingMiddleware(s.d.Tracing, name)(wrapped)
	wrapped = metricsMiddleware(name)(wrapped)
	wrapped = gzipMiddleware(wrapped)
	r.Handle(path, wrapped).Methods(method).Name(name)
}
