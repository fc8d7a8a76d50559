package api

import (
	"context"
	"net/http"
	"time"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/usage"
)

// defaultUsageWindow is the period reported when ?since is absent.
const defaultUsageWindow = 24 * time.Hour

// UsageReporter aggregates the persistent usage ledger.
type UsageReporter interface {
	Report(ctx context.Context, start, end time.Time) (*usage.Report, error)
}

// SetUsage enables GET /stats/usage. Call before [Server.Handler].
func (s *Server) SetUsage(u UsageReporter) {
	s.usage = u
}

// handleStatsUsage reports ledger totals for the last ?since duration.
func (s *Server) handleStatsUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusNotFound, "usage ledger is not enabled")
		return
	}

	window := defaultUsageWindow
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "since must be a positive duration such as 24h")
			return
		}
		window = d
	}

	end := time.Now()
	report, err := s.usage.Report(r.Context(), end.Add(-window), end)
	if err != nil {
		s.logger.Error("usage report failed", "error", err)
		s.internalError(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, report, s.logger)
}
