package crash

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"quern/pkg/types"
)

var (
	exceptionRe = regexp.MustCompile(`(?i)^Exception Type:\s*(.+)$`)
	signalRe    = regexp.MustCompile(`(?i)^\s*(?:Exception Subtype|Signal):\s*.*?\b(SIG\w+)\b`)
	threadRe    = regexp.MustCompile(`(?i)^Triggered by Thread:\s*(\d+)`)
	frameRe     = regexp.MustCompile(`^\d+\s+\S+\s+0x[0-9a-fA-F]+\s+(.+)$`)
)

const maxFrames = 10

// Parse reads path (an .ips or .crash file produced by the OS crash
// reporter) and extracts the fields Quern indexes: exception type, signal,
// faulting thread, and the top stack frames. The file itself is left
// untouched; this only produces the searchable summary.
func Parse(path string) (types.CrashReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.CrashReport{}, err
	}
	defer f.Close()

	report := types.CrashReport{Path: path, ParsedAt: time.Now()}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	inFrames := false
	for scanner.Scan() {
		line := scanner.Text()
		if m := exceptionRe.FindStringSubmatch(line); m != nil {
			report.ExceptionType = strings.TrimSpace(m[1])
			// "EXC_BAD_ACCESS (SIGSEGV)" carries the signal in parentheses.
			if i := strings.Index(report.ExceptionType, "(SIG"); i >= 0 && report.Signal == "" {
				if j := strings.IndexByte(report.ExceptionType[i:], ')'); j > 0 {
					report.Signal = report.ExceptionType[i+1 : i+j]
				}
			}
			continue
		}
		if m := signalRe.FindStringSubmatch(line); m != nil {
			report.Signal = m[1]
			continue
		}
		if m := threadRe.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				report.FaultingThread = n
			}
			continue
		}
		if strings.Contains(line, "Thread") && strings.Contains(line, "Crashed") {
			inFrames = true
			continue
		}
		if inFrames {
			if m := frameRe.FindStringSubmatch(line); m != nil {
				report.TopFrames = append(report.TopFrames, strings.TrimSpace(m[1]))
				if len(report.TopFrames) >= maxFrames {
					inFrames = false
				}
				continue
			}
			if strings.TrimSpace(line) == "" {
				inFrames = false
			}
		}
	}
	return report, scanner.Err()
}
