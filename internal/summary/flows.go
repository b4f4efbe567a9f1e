package summary

import (
	"sort"
	"strconv"
	"strings"

	"quern/pkg/types"
)

// FlowDigest is the response shape for GET /api/v1/proxy/flows/summary.
type FlowDigest struct {
	CountsByHost   map[string]int `json:"counts_by_host"`
	CountsByStatus map[string]int `json:"counts_by_status"`
	Slowest        []FlowRef      `json:"slowest"`
	ErrorHighlights []FlowRef     `json:"error_highlights"`
	Cursor         string         `json:"cursor"`
}

// FlowRef is a lightweight pointer into a digest's ranked flow lists.
type FlowRef struct {
	ID         uint64 `json:"id"`
	Host       string `json:"host"`
	Path       string `json:"path"`
	Status     int    `json:"status,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

const flowTopK = 5

// Flows builds a digest over flows with StoreSeq strictly greater than the
// ordinal encoded in sinceCursor (0 if absent), mirroring the log
// summarizer's cursor-delta contract.
func Flows(flows []*types.Flow, sinceCursor string) FlowDigest {
	startOrdinal, _ := ParseFlowCursor(sinceCursor)

	countsByHost := make(map[string]int)
	countsByStatus := make(map[string]int)
	var slow []FlowRef
	var errs []FlowRef
	maxOrdinal := startOrdinal

	for _, f := range flows {
		if f.StoreSeq <= startOrdinal {
			continue
		}
		if f.StoreSeq > maxOrdinal {
			maxOrdinal = f.StoreSeq
		}
		if f.Request.Host != "" {
			countsByHost[f.Request.Host]++
		}
		countsByStatus[f.StatusBucket()]++
		ref := FlowRef{ID: f.ID, Host: f.Request.Host, Path: f.Request.Path, Status: f.Response.Status, DurationMS: f.DurationMS, Error: f.Error}
		if f.Error != "" {
			errs = append(errs, ref)
		}
		slow = append(slow, ref)
	}

	sort.Slice(slow, func(i, j int) bool { return slow[i].DurationMS > slow[j].DurationMS })
	if len(slow) > flowTopK {
		slow = slow[:flowTopK]
	}
	if len(errs) > flowTopK {
		errs = errs[:flowTopK]
	}

	return FlowDigest{
		CountsByHost:    countsByHost,
		CountsByStatus:  countsByStatus,
		Slowest:         slow,
		ErrorHighlights: errs,
		Cursor:          FlowCursor(maxOrdinal),
	}
}

// FlowCursor renders a flow store ordinal as an opaque cursor string.
func FlowCursor(ordinal uint64) string {
	return "flow:" + strconv.FormatUint(ordinal, 10)
}

// ParseFlowCursor extracts the ordinal from a cursor produced by FlowCursor.
func ParseFlowCursor(cursor string) (ordinal uint64, ok bool) {
	const prefix = "flow:"
	if !strings.HasPrefix(cursor, prefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(cursor[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
