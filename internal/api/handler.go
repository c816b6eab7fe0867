// Package api provides HTTP handlers for the session gateway.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/arcanaday/arcana-session/internal/identity"
	"github.com/arcanaday/arcana-session/internal/session"
)

// Handler provides common handler utilities.
type Handler struct {
	registry *session.Registry
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(registry *session.Registry) *Handler {
	return &Handler{registry: registry}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// controller resolves the visitor's session controller from the request,
// creating it on first contact. The admin query parameter activates the
// admin overlay on any request carrying it.
func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if visitorID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	ctrl := h.registry.Get(r.Context(), visitorID)
	if r.URL.Query().Get("admin") == "true" {
		ctrl.EnterAdmin()
	}
	return ctrl, true
}

// decode parses a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
