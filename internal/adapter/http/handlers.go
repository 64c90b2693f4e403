package http

import (
	"net/http"
	"path"
	"strings"

	"github.com/Strob0t/QuantForge/internal/domain/session"
	"github.com/Strob0t/QuantForge/internal/gateway"
	"github.com/Strob0t/QuantForge/internal/resilience"
	"github.com/Strob0t/QuantForge/internal/service"
	"github.com/Strob0t/QuantForge/internal/workspace"
)

// Handlers bundles the services the API exposes.
type Handlers struct {
	Sessions *service.SessionService
	Gateway  *gateway.Gateway
}

// CreateSession handles POST /api/v1/sessions.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[session.CreateRequest](w, r)
	if !ok {
		return
	}
	sess, err := h.Sessions.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "session not created")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions handles GET /api/v1/sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "sessions unavailable")
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// CancelSession handles POST /api/v1/sessions/{id}/cancel.
func (h *Handlers) CancelSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Cancel(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "session is not running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListArtifacts handles GET /api/v1/sessions/{id}/artifacts.
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	metas, err := h.Sessions.Artifacts(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	if metas == nil {
		metas = []workspace.Meta{}
	}
	writeJSON(w, http.StatusOK, metas)
}

// GetArtifact handles GET /api/v1/sessions/{id}/artifacts/{name}. The body
// is the raw artifact content.
func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	content, err := h.Sessions.Artifact(r.Context(), urlParam(r, "id"), name)
	if err != nil {
		writeDomainError(w, err, "artifact not found")
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(name))
	_, _ = w.Write(content)
}

// healthResponse reports process liveness plus breaker state per
// dependency.
type healthResponse struct {
	Status       string              `json:"status"`
	Tools        []string            `json:"tools"`
	Dependencies []resilience.Health `json:"dependencies"`
}

// Health handles GET /api/v1/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	deps := h.Gateway.Health()
	status := "ok"
	for _, d := range deps {
		if d.State == resilience.StateOpen {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       status,
		Tools:        h.Gateway.Tools(),
		Dependencies: deps,
	})
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "application/json"
	case ".md", ".txt", ".py":
		return "text/plain; charset=utf-8"
	case ".csv":
		return "text/csv"
	}
	return "application/octet-stream"
}
