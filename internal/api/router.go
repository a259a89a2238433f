package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the HTTP surface.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/motion/events", h.InjectMotionEvent)
		r.Get("/retention", h.ListRetention)

		r.Route("/streams/{name}", func(r chi.Router) {
			r.Get("/motion-config", h.GetMotionConfig)
			r.Put("/motion-config", h.PutMotionConfig)
			r.Get("/state", h.GetStreamState)
			r.Get("/buffer", h.GetBufferStats)
			r.Post("/stop", h.ForceStop)
			r.Get("/retention", h.GetRetention)
			r.Put("/retention", h.PutRetention)
		})

		r.Route("/storage", func(r chi.Router) {
			r.Get("/health", h.GetStorageHealth)
			r.Post("/sweep", h.TriggerSweep)
		})
	})

	return r
}
