package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/indi-panel/internal/auth"
)

const (
	// healthCheckTimeout bounds each dependency check on /health.
	healthCheckTimeout = 2 * time.Second

	// defaultWSPath is mounted under /api/v1 when websocket.path is unset.
	defaultWSPath = "/ws"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermStateRead))
				r.Get("/indi/snapshot", s.handleSnapshot)
				r.Get("/indi/stats", s.handleStats)
				r.Get("/captures", s.handleListCaptures)
				r.Get("/audit", s.handleListAuditLogs)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermINDIOperate))
				r.Post("/indi/connect", s.handleConnect)
				r.Post("/indi/disconnect", s.handleDisconnect)
				r.Post("/indi/command", s.handleCommand)
				r.Post("/indi/exposure", s.handleExposure)
			})
		})
	})

	return r
}

// wsPath returns the configured WebSocket route relative to /api/v1.
func (s *Server) wsPath() string {
	p := strings.TrimSpace(s.wsCfg.Path)
	if p == "" || p == "/" {
		return defaultWSPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// handleHealth reports server status and the health of optional dependencies.
// Any failing dependency turns the response into 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.health))

	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"indi_connected": s.engine.IsConnected(),
		"checks":         checks,
	})
}
