package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/arcanaday/arcana-session/internal/chat"
	"github.com/arcanaday/arcana-session/internal/domain"
	"github.com/arcanaday/arcana-session/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// ChatHandler handles the follow-up conversation endpoints, including the
// WebSocket transcript stream.
type ChatHandler struct {
	*Handler
	allowedOrigin string
	isDev         bool
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(base *Handler, allowedOrigin string, isDev bool) *ChatHandler {
	return &ChatHandler{Handler: base, allowedOrigin: allowedOrigin, isDev: isDev}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/", h.GetTranscript)
		r.Post("/start", h.Start)
		r.Post("/resume", h.Resume)
		r.Post("/message", h.Send)
		r.Post("/close", h.Close)
	})
}

// GetTranscript returns the chat state and transcript.
func (h *ChatHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	manager := ctrl.Chat()
	JSON(w, http.StatusOK, map[string]interface{}{
		"state":      manager.State().String(),
		"transcript": manager.Transcript(),
	})
}

// Start opens the conversation for the current reading.
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.StartChat(); err != nil {
		writeControllerError(w, err)
		return
	}
	manager := ctrl.Chat()
	JSON(w, http.StatusOK, map[string]interface{}{
		"state":      manager.State().String(),
		"transcript": manager.Transcript(),
	})
}

// Resume reenters a conversation with client-supplied history, skipping the
// session-start call. Used when the view remounts with a local transcript.
func (h *ChatHandler) Resume(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		History   []domain.ChatMessage `json:"history"`
		SessionID string               `json:"session_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := ctrl.ResumeChat(req.History, req.SessionID); err != nil {
		writeControllerError(w, err)
		return
	}
	manager := ctrl.Chat()
	JSON(w, http.StatusOK, map[string]interface{}{
		"state":      manager.State().String(),
		"transcript": manager.Transcript(),
	})
}

// Send forwards a user message. The response carries the transcript
// including the assistant's reply or an error-role entry.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		Error(w, http.StatusBadRequest, "message text cannot be empty")
		return
	}
	err := ctrl.SendChatMessage(req.Text)
	switch {
	case err == nil:
	case chatMisuse(err):
		Error(w, http.StatusConflict, err.Error())
		return
	default:
		// Delivery failures are already recorded in the transcript as an
		// error-role entry; the HTTP call itself succeeded.
	}
	manager := ctrl.Chat()
	JSON(w, http.StatusOK, map[string]interface{}{
		"state":      manager.State().String(),
		"transcript": manager.Transcript(),
	})
}

// Close ends the conversation.
func (h *ChatHandler) Close(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.CloseChat()
	JSON(w, http.StatusOK, map[string]string{"state": chat.StateClosed.String()})
}

func chatMisuse(err error) bool {
	return errors.Is(err, chat.ErrNotReady) || errors.Is(err, chat.ErrAlreadyClosed)
}

// wsChatMessage is the inbound WebSocket message structure.
type wsChatMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// ServeStream implements the WebSocket transcript stream. Inbound "message"
// frames are forwarded into the chat session; every transcript append is
// pushed back as a JSON frame.
func (h *ChatHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	slog.Info("Chat stream connection request", "visitor_id", visitorID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "visitor_id", visitorID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "visitor_id", visitorID)
		}
	}()

	manager := ctrl.Chat()
	updates, cancelWatch := manager.Watch()
	defer cancelWatch()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: WebSocket -> chat session.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, ctrl.SendChatMessage, visitorID)
	}()

	// Output loop: transcript appends -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, updates, visitorID)
	}()

	wg.Wait()
	slog.Info("Chat stream ended", "visitor_id", visitorID)
}

func (h *ChatHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *ChatHandler) inputLoop(ctx context.Context, ws *websocket.Conn, send func(string) error, visitorID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "visitor_id", visitorID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "visitor_id", visitorID)
			}
			return
		}

		var msg wsChatMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("Dropping malformed chat frame", "visitor_id", visitorID)
			continue
		}

		switch msg.Type {
		case "message":
			if msg.Content == "" {
				continue
			}
			if err := send(msg.Content); err != nil && chatMisuse(err) {
				if writeErr := h.writeJSON(ctx, ws, map[string]string{"type": "error", "error": err.Error()}); writeErr != nil {
					slog.Debug("Failed to send chat error frame", "error", writeErr)
				}
			}
		case "ping":
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "close":
			return
		}
	}
}

func (h *ChatHandler) outputLoop(ctx context.Context, ws *websocket.Conn, updates <-chan domain.ChatMessage, visitorID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-updates:
			if !ok {
				// Chat closed; end the stream cleanly.
				return
			}
			if err := h.writeJSON(ctx, ws, msg); err != nil {
				slog.Debug("WebSocket write error", "error", err, "visitor_id", visitorID)
				return
			}
		}
	}
}

func (h *ChatHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
