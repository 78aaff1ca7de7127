package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/healthz", s.handleHealth)

	// API v1 routes. Authentication belongs to the surrounding
	// application; tenant scoping here trusts the path.
	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{deviceID}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/telemetry", s.handleGetSnapshot)
				r.Get("/commands", s.handleListDeviceCommands)
				r.Post("/commands", s.handleSendCommand)
				r.Get("/access-logs", s.handleListAccessLogs)
			})
		})

		r.Post("/commands/bulk", s.handleBulkCommand)
		r.Get("/commands/{correlationID}", s.handleGetCommand)
		r.Get("/audit-logs", s.handleListAuditLogs)

		// WebSocket event stream for this tenant
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
