package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/diagnostics"
)

// defaultUsageWindow is used when /usage gets no since parameter.
const defaultUsageWindow = 24 * time.Hour

// HealthResponse is the body of /api/v1/health.
type HealthResponse struct {
	core.ServiceHealth
	System   *diagnostics.SystemMetrics    `json:"system,omitempty"`
	Process  *diagnostics.ResourceSnapshot `json:"process,omitempty"`
	Warnings []diagnostics.HealthWarning   `json:"warnings,omitempty"`
}

// UsageResponse is the body of /api/v1/usage.
type UsageResponse struct {
	Since  time.Time        `json:"since"`
	Models []core.UsageStat `json:"models"`
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health == nil {
		respondError(w, http.StatusServiceUnavailable, "model invoker is not configured")
		return
	}

	resp := HealthResponse{ServiceHealth: s.svc.Health.Health(r.Context(), s.svc.Cache)}
	if s.system != nil {
		sys := s.system.Collect()
		resp.System = &sys
		resp.Warnings = append(resp.Warnings, sys.Warnings...)
	}
	if s.resource != nil {
		snap, ok := s.resource.GetLatest()
		if !ok {
			snap = s.resource.TakeSnapshot()
		}
		resp.Process = &snap
		resp.Warnings = append(resp.Warnings, s.resource.CheckHealth()...)
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if s.svc.Limiters == nil {
		respondError(w, http.StatusServiceUnavailable, "rate limiting is not configured")
		return
	}

	status, err := s.svc.Limiters.Status(chi.URLParam(r, "policy"), chi.URLParam(r, "key"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleUsage accepts since as a duration back from now ("6h") or an
// RFC 3339 timestamp.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.svc.Usage == nil {
		respondError(w, http.StatusServiceUnavailable, "usage logging is not enabled")
		return
	}

	since, err := parseSince(r.URL.Query().Get("since"), time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid since parameter: "+err.Error())
		return
	}

	stats, err := s.svc.Usage.UsageStats(r.Context(), since)
	if err != nil {
		s.logger.Error("failed to aggregate usage", "error", err)
		respondDomainError(w, err)
		return
	}
	if stats == nil {
		stats = []core.UsageStat{}
	}
	respondJSON(w, http.StatusOK, UsageResponse{Since: since, Models: stats})
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Add(-defaultUsageWindow), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, raw)
}
