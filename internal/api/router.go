package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmuc-msm/onpass-socket/internal/metrics"
)

const healthCheckTimeout = 3 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(metrics.HTTPMiddleware)
	r.Use(rateLimitMiddleware(s.secCfg.RateLimit))
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// The hub is always reachable at /api/v1/ws; a configured path adds
	// a second mount point.
	if p := s.wsCfg.Path; p != "" && !strings.HasPrefix(p, "/api/v1") {
		r.Handle(p, s.hub)
	}
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Post("/events", s.handleScanEvent)
		r.Post("/access", s.handleUserAccess)
		r.Get("/access/events", s.handleListAccessEvents)

		r.Handle("/ws", s.hub)
	})

	return r
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth answers 503 when any configured component fails its check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Version: s.version}
	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
	}
	for name, check := range s.checks {
		if err := check.HealthCheck(ctx); err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
