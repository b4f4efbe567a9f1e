// Package config loads and validates Quern's daemon configuration: a YAML
// file, overlaid with environment variable overrides, with a local .env
// loaded first for development convenience.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the full set of daemon settings. Zero values are filled in by
// applyDefaults unless DefaultsDisabled is set.
type Config struct {
	DefaultsDisabled bool `yaml:"-"`

	App struct {
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`
		HomeDir   string `yaml:"home_dir"`
	} `yaml:"app"`

	Server struct {
		Port        int `yaml:"port"`
		PortScanMax int `yaml:"port_scan_max"`
	} `yaml:"server"`

	Ring struct {
		Capacity     int    `yaml:"capacity"`
		DedupWindow  string `yaml:"dedup_window"`
	} `yaml:"ring"`

	Proxy struct {
		Enabled     bool   `yaml:"enabled"`
		Port        int    `yaml:"port"`
		MaxFlows    int    `yaml:"max_flows"`
		BodyLimit   int    `yaml:"body_limit_bytes"`
		HoldTimeout string `yaml:"hold_timeout"`
		AddonScript string `yaml:"addon_script"`
	} `yaml:"proxy"`

	DevicePool struct {
		StaleThreshold string `yaml:"stale_threshold"`
		RefreshCache   string `yaml:"refresh_cache"`
	} `yaml:"device_pool"`

	Adapters struct {
		Syslog        bool   `yaml:"syslog"`
		OSLog         bool   `yaml:"oslog"`
		Simulator     bool   `yaml:"simulator"`
		Crash         bool   `yaml:"crash"`
		CrashDir      string `yaml:"crash_dir"`
		CrashMaxAge   string `yaml:"crash_max_age"`
		CrashMaxBytes int64  `yaml:"crash_max_bytes"`
	} `yaml:"adapters"`

	Watchdog struct {
		Interval string `yaml:"interval"`
	} `yaml:"watchdog"`

	Classify struct {
		FilterFile string `yaml:"filter_file"`
	} `yaml:"classify"`

	Tracing struct {
		Enabled      bool    `yaml:"enabled"`
		Exporter     string  `yaml:"exporter"` // otlp | jaeger | none
		Endpoint     string  `yaml:"endpoint"`
		SampleRate   float64 `yaml:"sample_rate"`
		BatchTimeout string  `yaml:"batch_timeout"`
	} `yaml:"tracing"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// Load reads configFile (if non-empty), applies defaults and environment
// overrides, then validates. A missing or unparsable config file is a
// warning, not a failure: Quern runs on pure defaults.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if configFile != "" {
		if err := loadFile(configFile, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load config file %s: %v\n", configFile, err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.DefaultsDisabled {
		return
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "text"
	}
	if cfg.App.HomeDir == "" {
		home, _ := os.UserHomeDir()
		cfg.App.HomeDir = home + "/.quern"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9100
	}
	if cfg.Server.PortScanMax == 0 {
		cfg.Server.PortScanMax = 32
	}
	if cfg.Ring.Capacity == 0 {
		cfg.Ring.Capacity = 10000
	}
	if cfg.Ring.DedupWindow == "" {
		cfg.Ring.DedupWindow = "30s"
	}
	if cfg.Proxy.Port == 0 {
		cfg.Proxy.Port = 9101
	}
	if cfg.Proxy.MaxFlows == 0 {
		cfg.Proxy.MaxFlows = 10000
	}
	if cfg.Proxy.BodyLimit == 0 {
		cfg.Proxy.BodyLimit = 64 * 1024
	}
	if cfg.Proxy.HoldTimeout == "" {
		cfg.Proxy.HoldTimeout = "30s"
	}
	if cfg.Proxy.AddonScript == "" {
		cfg.Proxy.AddonScript = "assets/quern_addon.py"
	}
	if cfg.DevicePool.StaleThreshold == "" {
		cfg.DevicePool.StaleThreshold = "30m"
	}
	if cfg.DevicePool.RefreshCache == "" {
		cfg.DevicePool.RefreshCache = "2s"
	}
	if cfg.Watchdog.Interval == "" {
		cfg.Watchdog.Interval = "5s"
	}
	if cfg.Adapters.CrashDir == "" {
		cfg.Adapters.CrashDir = cfg.App.HomeDir + "/crashes"
	}
	if cfg.Adapters.CrashMaxAge == "" {
		cfg.Adapters.CrashMaxAge = "168h"
	}
	if cfg.Adapters.CrashMaxBytes == 0 {
		cfg.Adapters.CrashMaxBytes = 256 * 1024 * 1024
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "none"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
	if cfg.Tracing.BatchTimeout == "" {
		cfg.Tracing.BatchTimeout = "5s"
	}
	// Metrics default to enabled. An explicit `false` in YAML is
	// indistinguishable from "unspecified" at this layer, so metrics.enabled
	// cannot switch the metrics server off. The adapter toggles get no
	// default and keep whatever the file set (false when absent).
	cfg.Metrics.Enabled = true
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUERN_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("QUERN_LOG_FORMAT"); v != "" {
		cfg.App.LogFormat = v
	}
	if v := os.Getenv("QUERN_HOME"); v != "" {
		cfg.App.HomeDir = v
	}
	if v := getEnvInt("QUERN_PORT"); v != 0 {
		cfg.Server.Port = v
	}
	if v := getEnvInt("QUERN_PROXY_PORT"); v != 0 {
		cfg.Proxy.Port = v
	}
	if v := os.Getenv("QUERN_PROXY_ENABLED"); v != "" {
		cfg.Proxy.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("QUERN_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("QUERN_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

func getEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
