package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"quern/internal/ring"
	"quern/internal/summary"
	"quern/pkg/qerrors"
	"quern/pkg/types"
)

const sseHeartbeat = 15 * time.Second

func logFilterFromQuery(r *http.Request) ring.Filter {
	q := r.URL.Query()
	return ring.Filter{
		Source:    types.Source(q.Get("source")),
		Process:   q.Get("process"),
		MinLevel:  types.Level(q.Get("level")),
		Substring: q.Get("search"),
		Since:     queryTime(q, "since"),
		Until:     queryTime(q, "until"),
	}
}

type logsQueryResponse struct {
	Entries []*types.LogEntry `json:"entries"`
	Total   int                `json:"total"`
}

// handleLogsQuery serves GET /api/v1/logs/query.
func (s *Server) handleLogsQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := logFilterFromQuery(r)
	limit := queryInt(q, "limit", 100)
	offset := queryInt(q, "offset", 0)

	page := s.d.Ring.Query(filter, limit, offset)
	writeJSON(w, http.StatusOK, logsQueryResponse{Entries: page.Entries, Total: page.Total})
}

// handleLogsStream serves GET /api/v1/logs/stream: one SSE event per
// matching LogEntry, a comment heartbeat every 15 s, and a final `lagged`
// event if this subscriber falls behind (spec.md §4.H). Cancellation
// follows the request context, so a client disconnect frees the
// subscription immediately.
func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, qerrors.New(qerrors.Internal, "streaming unsupported"))
		return
	}

	filter := logFilterFromQuery(r)
	entries, lagged, cancel := s.d.Ring.Subscribe(filter)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-lagged:
			fmt.Fprintf(w, "event: lagged\ndata: {}\n\n")
			flusher.Flush()
			return
		case e, open := <-entries:
			if !open {
				return
			}
			writeSSEEntry(w, e)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEntry(w http.ResponseWriter, e *types.LogEntry) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: log\ndata: %s\n\n", body)
}

// handleLogsSummary serves GET /api/v1/logs/summary.
func (s *Server) handleLogsSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window := summary.Window(q.Get("window"))
	if window == "" {
		window = summary.Window1m
	}
	digest := summary.Logs(s.d.Ring, window, q.Get("process"), q.Get("since_cursor"))
	writeJSON(w, http.StatusOK, digest)
}

// handleLogsErrors serves GET /api/v1/logs/errors: error-and-above entries
// plus recent parsed crashes, per spec.md §6's "shortcut" description.
func (s *Server) handleLogsErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ring.Filter{MinLevel: types.LevelError}
	limit := queryInt(q, "limit", 100)
	page := s.d.Ring.Query(filter, limit, queryInt(q, "offset", 0))
	writeJSON(w, http.StatusOK, struct {
		Entries []*types.LogEntry  `json:"entries"`
		Total   int                 `json:"total"`
		Crashes []types.CrashReport `json:"crashes"`
	}{Entries: page.Entries, Total: page.Total, Crashes: s.crashes.Recent(20)})
}

// handleLogsSources serves GET /api/v1/logs/sources: adapter statuses.
func (s *Server) handleLogsSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Adapters []types.AdapterStatus `json:"adapters"`
	}{Adapters: s.d.Supervisor.Statuses()})
}

type logsFilterRequest struct {
	Adapter        string   `json:"adapter"`
	Process        string   `json:"process"`
	ExcludeSubstrs []string `json:"exclude_substrs"`
}

// handleLogsFilter serves POST /api/v1/logs/filter: reconfigures a single
// named adapter's in-process filter.
func (s *Server) handleLogsFilter(w http.ResponseWriter, r *http.Request) {
	var req logsFilterRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid request body"))
		return
	}
	if req.Adapter == "" {
		writeError(w, qerrors.New(qerrors.InvalidArgument, "adapter is required"))
		return
	}
	filter := types.AdapterFilter{Process: req.Process, ExcludeSubstrs: req.ExcludeSubstrs}
	if err := s.d.Supervisor.Reconfigure(req.Adapter, filter); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}
