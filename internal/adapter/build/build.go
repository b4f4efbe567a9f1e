// Package build implements the build-parser adapter contract: it is not a
// subprocess reader like the log adapters, but a pure parser invoked by the
// builds/parse HTTP endpoint with a blob of xcodebuild output.
package build

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"

	"quern/pkg/types"
)

// diagnosticRe matches xcodebuild's clang-style "file:line:col: severity: message" lines.
var diagnosticRe = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?:\s*(error|warning|note):\s*(.+)$`)

var testFailureRe = regexp.MustCompile(`^\s*Test Case .+ failed`)

// Parse interprets raw xcodebuild output, producing a BuildResult and the
// per-diagnostic LogEntries the caller should also append to the ring. At
// most one BuildResult is current at a time in the caller's store;
// submitting a new one atomically replaces it.
func Parse(output string) (types.BuildResult, []*types.LogEntry) {
	start := time.Now()
	result := types.BuildResult{Success: true}
	var entries []*types.LogEntry

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := diagnosticRe.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			diag := types.Diagnostic{File: m[1], Line: lineNo, Column: col, Severity: m[4], Message: m[5]}
			result.Diagnostics = append(result.Diagnostics, diag)
			switch diag.Severity {
			case "error":
				result.Errors++
				result.Success = false
			case "warning":
				result.Warnings++
			}
			entries = append(entries, &types.LogEntry{
				Timestamp: time.Now(),
				Source:    types.SourceBuild,
				Level:     severityLevel(diag.Severity),
				Message:   diag.Message,
				Raw:       line,
				Classification: "build",
			})
			continue
		}

		if testFailureRe.MatchString(line) {
			result.TestFailures++
			result.Success = false
			entries = append(entries, &types.LogEntry{
				Timestamp: time.Now(),
				Source:    types.SourceBuild,
				Level:     types.LevelError,
				Message:   strings.TrimSpace(line),
				Classification: "build",
			})
		}

		if strings.Contains(line, "** BUILD FAILED **") {
			result.Success = false
		}
	}

	result.Duration = time.Since(start)
	result.ParsedAt = time.Now()
	return result, entries
}

func severityLevel(sev string) types.Level {
	switch sev {
	case "error":
		return types.LevelError
	case "warning":
		return types.LevelWarning
	default:
		return types.LevelInfo
	}
}
