package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
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

	// WebSocket path is configurable; register it before the /api/v1 mount
	// so a custom path outside that prefix still resolves.
	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/api/v1/ws"
	}
	if !strings.HasPrefix(wsPath, "/api/v1/") {
		r.Get(wsPath, s.handleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/audit", s.handleListAuditLogs)

		if strings.HasPrefix(wsPath, "/api/v1/") {
			r.Get(strings.TrimPrefix(wsPath, "/api/v1"), s.handleWebSocket)
		}

		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", s.handleListPlugins)

			r.Route("/{name}", func(r chi.Router) {
				r.Use(s.pluginCtx)

				r.Get("/", s.handleGetPlugin)
				r.Get("/stats", s.handlePluginStats)
				r.Get("/logs", s.handlePluginLogs)

				r.Get("/errors", s.handleListPluginErrors)
				r.Delete("/errors/{key}", s.handleDismissPluginError)

				r.Get("/releases", s.handleListReleases)
				r.Get("/releases/latest", s.handleLatestRelease)
				r.Post("/releases/download", s.handleDownloadRelease)
				r.Get("/updates", s.handleCheckForUpdates)
				r.Get("/selected-release", s.handleGetSelectedRelease)
				r.Put("/selected-release", s.handleSetSelectedRelease)

				r.Post("/start", s.handleStartPlugin)
				r.Post("/request-start", s.handleRequestStart)
				r.Post("/stop", s.handleStopPlugin)

				r.Post("/rpc", s.handlePluginRPC)
				r.Post("/write", s.handlePluginWrite)
				r.Post("/execute", s.handlePluginExecute)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"plugins": s.registry.Len(),
	})
}
