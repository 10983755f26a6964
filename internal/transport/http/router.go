package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the operational endpoints. Business routes mount their
// own subrouters here as they are implemented.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/health", func(r chi.Router) {
		r.Get("/", h.handleHealth)
		r.Get("/ready", h.handleReady)
		r.Get("/live", h.handleLive)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
