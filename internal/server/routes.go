package server

import (
	"net/http"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/handlers"
)

// setupRoutes registers all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Job API
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)           // GET (list), POST (create)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.JobRoutes) // GET/POST /{id}[/cancel|pause|resume|results|export|audit]

	// Audit and queue
	mux.HandleFunc("/api/audit", s.app.JobHandler.AuditLogHandler)
	mux.HandleFunc("/api/queue/stats", s.app.JobHandler.QueueStatsHandler)

	// Metrics API
	mux.HandleFunc("/api/metrics/overview", s.app.MetricsHandler.OverviewHandler)
	mux.HandleFunc("/api/metrics/leaderboard", s.app.MetricsHandler.LeaderboardHandler)
	mux.HandleFunc("/api/metrics/sources", s.app.MetricsHandler.SourcesHandler)
	mux.HandleFunc("/api/metrics/resources", s.app.MetricsHandler.ResourcesHandler)
	mux.HandleFunc("/api/metrics/system", s.app.MetricsHandler.SystemHandler)

	// Health
	mux.HandleFunc("/api/health", s.healthHandler)

	return mux
}

// handleJobsRoute dispatches /api/jobs by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	case http.MethodPost:
		s.app.JobHandler.CreateJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"environment": s.app.Config.Environment,
		"ws_clients":  s.app.WSHandler.ClientCount(),
	})
}
