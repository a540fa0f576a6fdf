package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tiko-bridge/internal/auth"
	"github.com/nerrad567/tiko-bridge/internal/coordinator"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireScope(auth.ScopeRead))

			r.Get("/status", s.handleStatus)
			r.Get("/metrics", s.handleMetrics)

			r.Route("/properties", func(r chi.Router) {
				r.Get("/", s.handleListProperties)
				r.Route("/{propertyID}/rooms/{roomID}", func(r chi.Router) {
					r.Get("/", s.handleGetRoom)
					r.With(s.requireScope(auth.ScopeControl)).Put("/mode", s.handleSetRoomMode)
					r.With(s.requireScope(auth.ScopeControl)).Put("/temperature", s.handleSetRoomTemperature)
				})
			})

			r.Route("/consumption", func(r chi.Router) {
				r.Get("/", s.handleGetConsumption)
				r.With(s.requireScope(auth.ScopeControl)).Put("/period", s.handleSetConsumptionPeriod)
			})

			r.Get("/audit", s.handleListAudit)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth reports liveness plus whether the bridge has room data.
// It answers 503 until the first successful state refresh so it can back a
// readiness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.state.Status()

	status, code := "ok", http.StatusOK
	switch {
	case st.State == coordinator.StateFailed:
		status, code = "failed", http.StatusServiceUnavailable
	case !st.HasSnapshot:
		status, code = "starting", http.StatusServiceUnavailable
	case st.State == coordinator.StateDegraded:
		status = "degraded"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
	})
}

// handleStatus returns both coordinators' status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	coordinators := []coordinator.Status{s.state.Status()}
	if s.consumption != nil {
		coordinators = append(coordinators, s.consumption.Status())
	}

	resp := map[string]any{
		"version":           s.version,
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
		"rooms":             s.state.Snapshot().RoomCount(),
		"coordinators":      coordinators,
		"websocket_clients": s.hub.ClientCount(),
	}
	if s.consumption != nil {
		resp["consumption_period"] = s.consumption.Period()
	}
	writeJSON(w, http.StatusOK, resp)
}
