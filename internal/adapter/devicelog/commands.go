package devicelog

import "fmt"

// SimulatorCommand builds the `xcrun simctl spawn <udid> log stream` call
// used by the simulator-log and oslog adapters, matching the predicate
// Apple's own log tool accepts.
func SimulatorCommand(predicate string) CommandBuilder {
	return func(udid string) (string, []string) {
		args := []string{"simctl", "spawn", udid, "log", "stream", "--style", "ndjson", "--level", "debug"}
		if predicate != "" {
			args = append(args, "--predicate", predicate)
		}
		return "xcrun", args
	}
}

// DeviceSyslogCommand builds the physical-device syslog stream invocation
// via idevicesyslog (libimobiledevice), scoped to one UDID.
func DeviceSyslogCommand() CommandBuilder {
	return func(udid string) (string, []string) {
		return "idevicesyslog", []string{"-u", udid}
	}
}

// ProcessPredicate renders a log-stream predicate restricting to a single
// process name, for adapters that want server-side (not just in-process)
// filtering.
func ProcessPredicate(process string) string {
	if process == "" {
		return ""
	}
	return fmt.Sprintf("process == %q", process)
}
