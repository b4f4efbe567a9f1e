package proxy

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// ReplayClientConfig tunes the pooled transport used to re-issue captured
// flows. Replay traffic is bursty (a developer replaying the same request
// repeatedly while iterating on a server fix), so keeping connections warm
// across calls matters more here than for a one-shot client.
type ReplayClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	RequestTimeout      time.Duration
}

// DefaultReplayClientConfig mirrors the pooling defaults Quern's other
// subprocess-facing HTTP clients use, scaled down: a replay client talks to
// at most a handful of distinct hosts (the app under test and whatever it
// calls out to), not a fleet of daemons.
func DefaultReplayClientConfig() ReplayClientConfig {
	return ReplayClientConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		RequestTimeout:      30 * time.Second,
	}
}

// ReplayClient is a pooled HTTP client shared across every
// POST /api/v1/proxy/replay/{id} call, rather than a fresh *http.Client per
// request, so replaying the same endpoint repeatedly reuses connections
// instead of paying a new TCP/TLS handshake each time.
type ReplayClient struct {
	http      *http.Client
	transport *http.Transport
	mu        sync.Mutex
}

// NewReplayClient builds a ReplayClient from cfg.
func NewReplayClient(cfg ReplayClientConfig) *ReplayClient {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DialContext:         dialer.DialContext,
	}
	return &ReplayClient{
		http:      &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		transport: transport,
	}
}

// Do issues req over the pooled transport.
func (c *ReplayClient) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

// CloseIdleConnections releases pooled connections, called on daemon
// shutdown so a replay client never holds a process open past the
// daemon's own lifetime.
func (c *ReplayClient) CloseIdleConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport.CloseIdleConnections()
}
