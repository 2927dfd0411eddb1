package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthzResponse is the body of GET /healthz.
type HealthzResponse struct {
	Status        string     `json:"status"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	SessionDepth  int        `json:"session_queue_depth"`
	SessionBusy   bool       `json:"session_busy"`
	LastClaimAt   *time.Time `json:"last_claim_at,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		SessionDepth:  st.SessionDepth,
		SessionBusy:   st.SessionBusy,
	}
	if !st.LastClaim.IsZero() {
		last := st.LastClaim
		resp.LastClaimAt = &last
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
