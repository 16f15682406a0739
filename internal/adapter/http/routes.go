package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/civicforge/civicforge/internal/middleware"
)

// MountRoutes registers the moderation API on the given chi router.
// The rate limiter guards submission ingestion only; reads are unmetered.
func MountRoutes(r chi.Router, h *Handlers, rl *middleware.RateLimiter) {
	r.Get("/healthz", h.Healthz)
	r.Get("/metrics/workers", h.WorkerMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		if rl != nil {
			r.With(rl.Handler).Post("/submissions", h.SubmitContent)
		} else {
			r.Post("/submissions", h.SubmitContent)
		}
		r.Get("/evaluations/{id}", h.GetEvaluation)
		r.Get("/consensus/{type}/{id}", h.GetConsensus)
	})
}
