package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Get("/health", h.Health)

		// Sessions
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Post("/sessions/{id}/cancel", h.CancelSession)

		// Artifacts (read-only; writes go through the orchestrator)
		r.Get("/sessions/{id}/artifacts", h.ListArtifacts)
		r.Get("/sessions/{id}/artifacts/{name}", h.GetArtifact)
	})
}
