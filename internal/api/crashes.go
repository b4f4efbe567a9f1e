package api

import (
	"net/http"

	"quern/pkg/types"
)

// handleCrashesLatest serves GET /api/v1/crashes/latest.
func (s *Server) handleCrashesLatest(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query(), "limit", 50)
	writeJSON(w, http.StatusOK, struct {
		Reports []types.CrashReport `json:"reports"`
	}{Reports: s.crashes.Recent(limit)})
}
