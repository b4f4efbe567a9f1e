package api

import "net/http"

// handleHealth answers GET /health, the one unauthenticated route. Per
// spec.md §4.B it backs the daemon's own already-running probe, so it must
// stay cheap: it reads the watchdog's last sample rather than re-computing
// anything.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.d.Watchdog.Snapshot()
	writeJSON(w, http.StatusOK, snap)
}
