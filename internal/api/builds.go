package api

import (
	"io"
	"net/http"
	"time"

	"quern/internal/adapter/build"
	"quern/pkg/qerrors"
	"quern/pkg/types"
)

// handleBuildsParse serves POST /api/v1/builds/parse: the body is raw
// xcodebuild output. build.Parse is a pure function (no adapter lifecycle
// of its own, per spec.md §4.G), so the handler owns turning its result
// into both the stored BuildResult and a LogEntry per diagnostic.
func (s *Server) handleBuildsParse(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 32*1024*1024))
	defer r.Body.Close()
	if err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "failed to read request body"))
		return
	}

	result, entries := build.Parse(string(raw))
	result.ParsedAt = time.Now()
	s.builds.Set(result)

	for _, e := range entries {
		if out, keep := s.d.Pipeline.Process(e); keep {
			s.d.Ring.Append(out)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// handleBuildsLatest serves GET /api/v1/builds/latest.
func (s *Server) handleBuildsLatest(w http.ResponseWriter, r *http.Request) {
	latest := s.builds.Latest()
	writeJSON(w, http.StatusOK, struct {
		Result *types.BuildResult `json:"result"`
	}{Result: latest})
}
