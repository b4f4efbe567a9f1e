package api

import (
	"context"

	"quern/internal/adapter/devicelog"
	"quern/pkg/types"
)

// startDeviceLogAdapters launches the syslog/oslog/simulator adapters
// configured for dev.'s claim, one per enabled kind. Unlike the crash
// adapter (registered once at boot), devicelog adapters are per-UDID and
// live only as long as the device is claimed, so they are started here
// rather than in daemon.New. Failures are logged, not returned: a device
// claim should not fail just because log streaming couldn't start.
func (s *Server) startDeviceLogAdapters(ctx context.Context, dev types.DeviceRecord) {
	cfg := s.d.Config.Adapters
	simulator := dev.Kind == types.DeviceSimulator

	start := func(kind devicelog.Kind, build devicelog.CommandBuilder) {
		a := devicelog.New(kind, dev.UDID, build, devicelog.DefaultLineParser(kind.Source()), s.d.Log)
		if err := s.d.Supervisor.StartOne(ctx, a); err != nil {
			s.d.Log.WithError(err).WithField("adapter", a.Name()).Warn("failed to start device log adapter")
		}
	}

	if cfg.Syslog {
		if simulator {
			start(devicelog.KindSyslog, devicelog.SimulatorCommand(""))
		} else {
			start(devicelog.KindSyslog, devicelog.DeviceSyslogCommand())
		}
	}
	if cfg.OSLog {
		if simulator {
			start(devicelog.KindOSLog, devicelog.SimulatorCommand(""))
		} else {
			start(devicelog.KindOSLog, devicelog.DeviceSyslogCommand())
		}
	}
	if cfg.Simulator && simulator {
		start(devicelog.KindSimulator, devicelog.SimulatorCommand(""))
	}
}

// stopDeviceLogAdapters tears down every devicelog adapter that may have
// been started for udid across the three kinds. StopOne on a name that was
// never registered is a no-op per the supervisor's contract.
func (s *Server) stopDeviceLogAdapters(ctx context.Context, udid string) {
	for _, kind := range []devicelog.Kind{devicelog.KindSyslog, devicelog.KindOSLog, devicelog.KindSimulator} {
		name := string(kind) + ":" + udid
		if err := s.d.Supervisor.StopOne(ctx, name); err != nil {
			s.d.Log.WithError(err).WithField("adapter", name).Debug("device log adapter stop")
		}
	}
}
