package api

import (
	"errors"
	"net/http"

	"github.com/arcanaday/arcana-session/internal/domain"
	"github.com/arcanaday/arcana-session/internal/session"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles step-machine endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.GetSnapshot)
		r.Post("/entry", h.ChooseEntry)
		r.Post("/onboarding", h.SubmitOnboarding)
		r.Post("/interpretation", h.ShowInterpretation)
		r.Post("/modal/upsell", h.OpenUpsell)
		r.Post("/modal/explore", h.OpenExplore)
		r.Post("/modal/close", h.CloseModal)
		r.Post("/restart", h.Restart)
		r.Post("/language", h.SetLanguage)
		r.Post("/promo-seen", h.MarkPromoSeen)
		r.Post("/mute", h.SetMuted)
		r.Post("/admin/exit", h.ExitAdmin)
		r.Post("/dev/toggle", h.ToggleDevOverlay)
	})
}

// writeControllerError maps controller misuse errors to HTTP statuses.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownTier):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrAdminOnly):
		Error(w, http.StatusForbidden, err.Error())
	default:
		Error(w, http.StatusConflict, err.Error())
	}
}

// GetSnapshot returns the full render state.
func (h *SessionHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// ChooseEntry moves Landing to Onboarding with the chosen tier.
func (h *SessionHandler) ChooseEntry(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Tier string `json:"tier"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := ctrl.ChooseEntry(domain.Tier(req.Tier)); err != nil {
		writeControllerError(w, err)
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// SubmitOnboarding submits name and date of birth, fetching the reading.
// Network failures surface through the snapshot's last_error, not the HTTP
// status.
func (h *SessionHandler) SubmitOnboarding(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		DateOfBirth string `json:"date_of_birth"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := ctrl.SubmitOnboarding(req.Name, req.DateOfBirth); err != nil {
		writeControllerError(w, err)
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// ShowInterpretation moves Reveal to Interpretation.
func (h *SessionHandler) ShowInterpretation(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.ShowInterpretation(); err != nil {
		writeControllerError(w, err)
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// OpenUpsell overlays the upsell modal.
func (h *SessionHandler) OpenUpsell(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.OpenUpsell(); err != nil {
		writeControllerError(w, err)
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// OpenExplore overlays the explore modal.
func (h *SessionHandler) OpenExplore(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.OpenExplore(); err != nil {
		writeControllerError(w, err)
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// CloseModal restores the step the modal was opened from.
func (h *SessionHandler) CloseModal(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.CloseModal(); err != nil {
		writeControllerError(w, err)
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// Restart returns the session to Landing.
func (h *SessionHandler) Restart(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.Restart()
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// SetLanguage updates the active language and persists the preference.
func (h *SessionHandler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Language string `json:"language"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Language == "" {
		Error(w, http.StatusBadRequest, "language cannot be empty")
		return
	}
	if err := ctrl.SetLanguage(r.Context(), req.Language); err != nil {
		writeControllerError(w, err)
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// MarkPromoSeen records that the promo modal was shown.
func (h *SessionHandler) MarkPromoSeen(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.MarkPromoSeen(r.Context())
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// SetMuted records the audio mute preference.
func (h *SessionHandler) SetMuted(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Muted bool `json:"muted"`
	}
	if !decode(w, r, &req) {
		return
	}
	ctrl.SetMuted(req.Muted)
	JSON(w, http.StatusOK, map[string]bool{"muted": req.Muted, "can_play": ctrl.CanPlayAudio()})
}

// ExitAdmin leaves the admin overlay and clears persisted preferences.
func (h *SessionHandler) ExitAdmin(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.ExitAdmin(r.Context()); err != nil {
		writeControllerError(w, err)
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// ToggleDevOverlay flips the dev overlay flag.
func (h *SessionHandler) ToggleDevOverlay(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"dev_overlay": ctrl.ToggleDevOverlay()})
}
