// Package summary builds time-windowed, cursor-delta digests of log and
// flow activity: counts, top recurring messages, and a short templated
// narrative, with no model calls involved.
package summary

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"quern/internal/ring"
	"quern/pkg/types"
)

// Window is one of the fixed digest windows the API accepts.
type Window string

const (
	Window30s Window = "30s"
	Window1m  Window = "1m"
	Window5m  Window = "5m"
	Window15m Window = "15m"
	Window1h  Window = "1h"
)

// LogDigest is the response shape for GET /api/v1/logs/summary.
type LogDigest struct {
	CountsByLevel   map[types.Level]int `json:"counts_by_level"`
	CountsByProcess map[string]int      `json:"counts_by_process"`
	TopMessages     []MessageCount      `json:"top_messages"`
	TopErrors       []MessageCount      `json:"top_errors"`
	Narrative       string              `json:"narrative"`
	Cursor          string              `json:"cursor"`
}

// MessageCount is one ranked entry in a digest's top-K lists.
type MessageCount struct {
	Fingerprint string `json:"fingerprint"`
	Message     string `json:"message"`
	Count       int    `json:"count"`
}

const topK = 5

var narrativeTmpl = template.Must(template.New("log-digest").Parse(
	`{{.Total}} log entries in the last {{.Window}}` +
		`{{if .Errors}}, including {{.Errors}} at error level or above{{end}}` +
		`{{if .TopMessage}}; most frequent: "{{.TopMessage}}" ({{.TopCount}}x){{end}}.`))

// Logs builds a digest of entries in ring since cursor (exclusive) whose
// timestamps fall within window; entries without a timestamp are kept. An
// empty cursor considers the whole ring. The returned cursor is the
// sequence of the newest entry seen, so cursor2 >= cursor1 always holds.
func Logs(r *ring.Ring, window Window, process string, sinceCursor string) LogDigest {
	var entries []*types.LogEntry
	startSeq, _ := ring.ParseCursor(sinceCursor)
	entries = r.Since(startSeq)
	var cutoff time.Time
	if d, err := time.ParseDuration(string(window)); err == nil {
		cutoff = time.Now().Add(-d)
	}

	countsByLevel := make(map[types.Level]int)
	countsByProcess := make(map[string]int)
	counts := make(map[string]*MessageCount)
	errCounts := make(map[string]*MessageCount)
	var maxSeq uint64 = startSeq
	errorTotal := 0
	total := 0

	for _, e := range entries {
		if process != "" && e.Process != process {
			continue
		}
		if !cutoff.IsZero() && !e.Timestamp.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		total++
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
		countsByLevel[e.Level]++
		if e.Process != "" {
			countsByProcess[e.Process]++
		}
		if mc, ok := counts[e.Fingerprint]; ok {
			mc.Count++
		} else {
			counts[e.Fingerprint] = &MessageCount{Fingerprint: e.Fingerprint, Message: e.Message, Count: 1}
		}
		if e.Level.AtLeast(types.LevelError) {
			errorTotal++
			if mc, ok := errCounts[e.Fingerprint]; ok {
				mc.Count++
			} else {
				errCounts[e.Fingerprint] = &MessageCount{Fingerprint: e.Fingerprint, Message: e.Message, Count: 1}
			}
		}
	}

	top := topN(counts, topK)
	topErrors := topN(errCounts, topK)

	narrative := renderNarrative(total, window, errorTotal, top)

	return LogDigest{
		CountsByLevel:   countsByLevel,
		CountsByProcess: countsByProcess,
		TopMessages:     top,
		TopErrors:       topErrors,
		Narrative:       narrative,
		Cursor:          ring.Cursor(maxSeq),
	}
}

func topN(counts map[string]*MessageCount, n int) []MessageCount {
	list := make([]MessageCount, 0, len(counts))
	for _, mc := range counts {
		list = append(list, *mc)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Message < list[j].Message
	})
	if len(list) > n {
		list = list[:n]
	}
	return list
}

func renderNarrative(total int, window Window, errors int, top []MessageCount) string {
	data := struct {
		Total      int
		Window     Window
		Errors     int
		TopMessage string
		TopCount   int
	}{Total: total, Window: window, Errors: errors}
	if len(top) > 0 {
		data.TopMessage = truncate(top[0].Message, 80)
		data.TopCount = top[0].Count
	}
	var b strings.Builder
	if err := narrativeTmpl.Execute(&b, data); err != nil {
		return fmt.Sprintf("%d log entries in the last %s.", total, window)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
