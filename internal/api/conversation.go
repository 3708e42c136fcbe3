package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/sidework/internal/identity"
	"github.com/go-chi/chi/v5"
)

// ProcessRequest is one conversational turn submitted by the chat layer.
// CandidateReply is the reply the conversational model already produced;
// the orchestrator rewrites it when an offer or continuity cue applies.
type ProcessRequest struct {
	Message        string `json:"message"`
	CandidateReply string `json:"candidate_reply"`
}

// ChannelCloser tears down a session's live message channel.
type ChannelCloser interface {
	CloseSession(sessionID string)
}

// ConversationHandler handles conversational turn and session lifecycle
// endpoints.
type ConversationHandler struct {
	*Handler
	rateLimiter *RateLimiter
	channels    ChannelCloser
}

// NewConversationHandler creates a new conversation handler. channels may
// be nil when no live message channel exists.
func NewConversationHandler(base *Handler, channels ChannelCloser) *ConversationHandler {
	return &ConversationHandler{
		Handler:     base,
		rateLimiter: NewRateLimiter(base.cfg.RateLimit.RequestsPerWindow, base.cfg.RateLimit.WindowDuration),
		channels:    channels,
	}
}

// RegisterRoutes registers conversation routes.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/conversation", func(r chi.Router) {
		r.Post("/process", h.Process)
	})
	r.Delete("/api/session", h.DeleteSession)
}

// Process runs one conversational turn through the orchestrator.
func (h *ConversationHandler) Process(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Rate-limit by device ID so clients cannot bypass throttling by
	// rotating session IDs.
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		deviceID = sessionID
	}
	if !h.rateLimiter.Allow(deviceID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.SSE.MaxRequestBodySize)

	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	slog.Info("Conversation turn",
		"session_id", sessionID,
		"message_length", len(req.Message),
	)

	result := h.orch.Process(r.Context(), sessionID, req.Message, req.CandidateReply)
	JSON(w, http.StatusOK, result)
}

// DeleteSession discards the session's conversation state and work
// history, and closes its live message channel if one is open.
func (h *ConversationHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.channels != nil {
		h.channels.CloseSession(sessionID)
	}
	h.sessions.DeleteSession(sessionID)

	slog.Info("Session deleted", "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
