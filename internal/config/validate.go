package config

import (
	"fmt"
	"time"
)

// Validate checks cross-field invariants that zero-value defaulting cannot
// express: valid duration strings, sane ranges.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Server.PortScanMax < 1 {
		return fmt.Errorf("server.port_scan_max must be >= 1")
	}
	if cfg.Ring.Capacity < 1 {
		return fmt.Errorf("ring.capacity must be >= 1")
	}
	if _, err := time.ParseDuration(cfg.Ring.DedupWindow); err != nil {
		return fmt.Errorf("ring.dedup_window: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Proxy.HoldTimeout); err != nil {
		return fmt.Errorf("proxy.hold_timeout: %w", err)
	}
	if _, err := time.ParseDuration(cfg.DevicePool.StaleThreshold); err != nil {
		return fmt.Errorf("device_pool.stale_threshold: %w", err)
	}
	if _, err := time.ParseDuration(cfg.DevicePool.RefreshCache); err != nil {
		return fmt.Errorf("device_pool.refresh_cache: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Watchdog.Interval); err != nil {
		return fmt.Errorf("watchdog.interval: %w", err)
	}
	switch cfg.Tracing.Exporter {
	case "otlp", "jaeger", "none":
	default:
		return fmt.Errorf("tracing.exporter must be one of otlp|jaeger|none, got %q", cfg.Tracing.Exporter)
	}
	return nil
}
