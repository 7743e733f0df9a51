package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/services/metrics"
)

// MetricsHandler exposes the metrics store's read surface
type MetricsHandler struct {
	service *metrics.Service
	logger  arbor.ILogger
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(service *metrics.Service, logger arbor.ILogger) *MetricsHandler {
	return &MetricsHandler{
		service: service,
		logger:  logger,
	}
}

// window parses the optional window query parameter, defaulting to 24h
func window(r *http.Request) time.Duration {
	value := r.URL.Query().Get("window")
	if value == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// OverviewHandler returns the trailing-window job overview
// GET /api/metrics/overview?window=24h
func (h *MetricsHandler) OverviewHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.service.GetOverview(window(r)))
}

// LeaderboardHandler returns the algorithm accuracy ranking
// GET /api/metrics/leaderboard?window=24h
func (h *MetricsHandler) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	standings := h.service.GetLeaderboard(window(r))
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"leaderboard": standings,
		"count":       len(standings),
	})
}

// SourcesHandler returns per-data-source aggregates
// GET /api/metrics/sources?window=24h
func (h *MetricsHandler) SourcesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	summaries := h.service.GetSourceSummary(window(r))
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sources": summaries,
		"count":   len(summaries),
	})
}

// ResourcesHandler returns the resource snapshot ring, oldest first
// GET /api/metrics/resources
func (h *MetricsHandler) ResourcesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	history := h.service.GetResourceHistory()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": history,
		"count":     len(history),
	})
}

// SystemHandler returns the composed realtime metrics payload
// GET /api/metrics/system
func (h *MetricsHandler) SystemHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.service.SystemMetrics(r.Context()))
}
