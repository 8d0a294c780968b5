package httpapi

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status   string `json:"status"`
	UptimeS  int64  `json:"uptime"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

// handleHealth handles GET /api/health (spec §6). Unauthenticated: load
// balancers and uptime checks shouldn't need a token.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		UptimeS:  int64(time.Since(s.startedAt).Seconds()),
		Version:  s.version,
		Sessions: len(s.reg.List()),
	})
}
