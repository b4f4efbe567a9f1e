// Command quernd is Quern's local iOS-development debugging daemon: it
// captures device and simulator logs, parses xcodebuild output, proxies
// HTTP traffic through an embedded mitmproxy, and tracks a pool of claimed
// simulators/devices, all behind one HTTP/SSE API on localhost.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"quern/internal/api"
	"quern/internal/daemon"
	"quern/internal/config"
	"quern/internal/statefile"
)

func main() {
	var configFile string
	var foreground bool
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.BoolVar(&foreground, "foreground", false, "Run in the foreground instead of detaching")
	flag.Parse()

	if configFile == "" {
		if env := os.Getenv("QUERN_CONFIG_FILE"); env != "" {
			configFile = env
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(daemon.ExitConfigError)
	}

	log := newLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	if !foreground {
		logPath := statefile.Dir(cfg.App.HomeDir) + "/server.log"
		detached, err := daemon.Daemonize(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to daemonize: %v\n", err)
			os.Exit(daemon.ExitError)
		}
		if detached {
			return
		}
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize daemon")
		os.Exit(daemon.ExitError)
	}

	handler := api.New(d)
	os.Exit(d.Serve(context.Background(), handler))
}

func newLogger(level, format string) *logrus.Logger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{})
	}
	return log
}
