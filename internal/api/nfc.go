package api

import (
	"errors"
	"net/http"

	"github.com/arcanaday/arcana-session/internal/backend"
	"github.com/arcanaday/arcana-session/internal/nfc"
	"github.com/go-chi/chi/v5"
)

// NFCHandler handles poster-code registration endpoints.
type NFCHandler struct {
	*Handler
}

// NewNFCHandler creates a new registration handler.
func NewNFCHandler(base *Handler) *NFCHandler {
	return &NFCHandler{Handler: base}
}

// RegisterRoutes registers registration routes.
func (h *NFCHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/nfc", func(r chi.Router) {
		r.Get("/form", h.GetForm)
		r.Post("/verify", h.Verify)
		r.Post("/form/identity", h.SetIdentity)
		r.Post("/form/preferences", h.SetPreferences)
		r.Post("/form/aspirations", h.SetAspirations)
		r.Post("/form/next", h.Next)
		r.Post("/form/back", h.Back)
		r.Post("/submit", h.Submit)
		r.Put("/profile", h.UpdateProfile)
	})
}

// writeFlowError maps the registration error taxonomy to HTTP statuses.
func writeFlowError(w http.ResponseWriter, err error) {
	var flowErr *nfc.FlowError
	if !errors.As(err, &flowErr) {
		writeControllerError(w, err)
		return
	}
	switch flowErr.Kind {
	case nfc.MissingCredential:
		Error(w, http.StatusBadRequest, flowErr.Message)
	case nfc.VerificationRejected, nfc.SubmissionRejected:
		Error(w, http.StatusUnprocessableEntity, flowErr.Message)
	default:
		Error(w, http.StatusBadGateway, flowErr.Message)
	}
}

type formResponse struct {
	State       string   `json:"state"`
	Step        int      `json:"step"`
	CanContinue bool     `json:"can_continue"`
	LastError   string   `json:"last_error,omitempty"`
	Name        string   `json:"name"`
	DateOfBirth string   `json:"date_of_birth"`
	Gender      string   `json:"gender"`
	Color       string   `json:"color"`
	Language    string   `json:"language"`
	Numbers     []int    `json:"numbers"`
	Aspirations string   `json:"aspirations"`
	Interests   []string `json:"interests"`
}

func flowState(flow *nfc.Flow) formResponse {
	form := flow.FormSnapshot()
	return formResponse{
		State:       flow.State().String(),
		Step:        flow.Step(),
		CanContinue: flow.CanContinue(),
		LastError:   flow.LastError(),
		Name:        form.Name,
		DateOfBirth: form.DateOfBirth,
		Gender:      form.Gender,
		Color:       form.Color,
		Language:    form.Language,
		Numbers:     form.Numbers[:],
		Aspirations: form.Aspirations,
		Interests:   form.Interests,
	}
}

// GetForm returns the registration flow state and entered form data.
func (h *NFCHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, flowState(ctrl.Flow()))
}

// Verify sends the poster code for verification. An existing user
// short-circuits the form and proceeds straight toward the reveal.
func (h *NFCHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := ctrl.VerifyPosterCode(req.Code); err != nil {
		writeFlowError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"form":    flowState(ctrl.Flow()),
		"session": ctrl.Snapshot(),
	})
}

// UpdateProfile pushes edited fields for an adopted tag-linked identity.
func (h *NFCHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var payload backend.RegistrationPayload
	if !decode(w, r, &payload) {
		return
	}
	if err := ctrl.UpdateRegisteredProfile(payload); err != nil {
		writeControllerError(w, err)
		return
	}
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// SetIdentity records form step 1 fields.
func (h *NFCHandler) SetIdentity(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		DateOfBirth string `json:"date_of_birth"`
		Gender      string `json:"gender"`
	}
	if !decode(w, r, &req) {
		return
	}
	ctrl.Flow().SetIdentity(req.Name, req.DateOfBirth, req.Gender)
	JSON(w, http.StatusOK, flowState(ctrl.Flow()))
}

// SetPreferences records form step 2 fields.
func (h *NFCHandler) SetPreferences(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Color    string `json:"color"`
		Language string `json:"language"`
		Numbers  []int  `json:"numbers"`
	}
	if !decode(w, r, &req) {
		return
	}
	if len(req.Numbers) != 3 {
		Error(w, http.StatusBadRequest, "exactly three lucky numbers are required")
		return
	}
	ctrl.Flow().SetPreferences(req.Color, req.Language, [3]int{req.Numbers[0], req.Numbers[1], req.Numbers[2]})
	JSON(w, http.StatusOK, flowState(ctrl.Flow()))
}

// SetAspirations records form step 3 fields.
func (h *NFCHandler) SetAspirations(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Aspirations string   `json:"aspirations"`
		Interests   []string `json:"interests"`
	}
	if !decode(w, r, &req) {
		return
	}
	ctrl.Flow().SetAspirations(req.Aspirations, req.Interests)
	JSON(w, http.StatusOK, flowState(ctrl.Flow()))
}

// Next advances one form step when the current step is complete.
func (h *NFCHandler) Next(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if !ctrl.Flow().Next() {
		Error(w, http.StatusConflict, "current step is not complete")
		return
	}
	JSON(w, http.StatusOK, flowState(ctrl.Flow()))
}

// Back returns one form step without losing entered data.
func (h *NFCHandler) Back(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if !ctrl.Flow().Back() {
		Error(w, http.StatusConflict, "already on the first step")
		return
	}
	JSON(w, http.StatusOK, flowState(ctrl.Flow()))
}

// Submit sends the completed registration form.
func (h *NFCHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.CompleteRegistration(); err != nil {
		writeFlowError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"form":    flowState(ctrl.Flow()),
		"session": ctrl.Snapshot(),
	})
}
