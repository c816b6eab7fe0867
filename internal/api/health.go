package api

import (
	"net/http"
	"time"

	"github.com/arcanaday/arcana-session/internal/prefs"
	"github.com/go-chi/chi/v5"
)

// HealthHandler reports gateway readiness.
type HealthHandler struct {
	repo prefs.Repository
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo prefs.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// RegisterHealth registers the readiness route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Ready)
}

// Ready checks the preference store and reports status.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	JSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
