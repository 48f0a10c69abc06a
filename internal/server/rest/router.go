// Package rest serves the admin HTTP API of the intake service.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns the admin router.
//
// Route layout:
//
//	GET /healthz          liveness and agent state (no authentication)
//	GET /metrics          Prometheus exposition (no authentication)
//	GET /api/v1/status    agent state plus the total record count
//	GET /api/v1/targets   registered watch targets
//	GET /api/v1/records   paginated record query
//	GET /api/v1/feed      websocket stream of new records
//
// When auth is nil the /api/v1 routes are served without authentication.
func NewRouter(srv *Server, auth *JWTConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)
	if srv.metrics != nil {
		r.Method(http.MethodGet, "/metrics", srv.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(JWTMiddleware(*auth))
		}

		r.Get("/status", srv.handleGetStatus)
		r.Get("/targets", srv.handleGetTargets)
		r.Get("/records", srv.handleGetRecords)
		if srv.feed != nil {
			r.Method(http.MethodGet, "/feed", srv.feed)
		}
	})

	return r
}
