package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/sidework/internal/identity"
	"github.com/go-chi/chi/v5"
)

// MessageHandler handles the user side of work-to-user messaging.
type MessageHandler struct {
	*Handler
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(base *Handler) *MessageHandler {
	return &MessageHandler{Handler: base}
}

// RegisterRoutes registers message routes.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/messages", func(r chi.Router) {
		r.Get("/pending", h.GetPending)
		r.Post("/{messageID}/respond", h.Respond)
	})
}

// GetPending returns unanswered questions waiting on the user.
func (h *MessageHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"pending":    h.messages.GetPendingQuestions(sessionID),
	})
}

// Respond records the user's answer to a question asked by executing work.
func (h *MessageHandler) Respond(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	messageID := chi.URLParam(r, "messageID")

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.SSE.MaxRequestBodySize)

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	response := h.messages.RespondFromUser(messageID, sessionID, req.Content)
	if response == nil {
		Error(w, http.StatusNotFound, "message not found or already answered")
		return
	}

	slog.Info("User responded to work question",
		"session_id", sessionID,
		"message_id", messageID,
		"response_id", response.ID,
	)
	JSON(w, http.StatusOK, response)
}
