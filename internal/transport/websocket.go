package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/sidework/internal/events"
	"github.com/ashureev/sidework/internal/identity"
	"github.com/ashureev/sidework/internal/messaging"
	"github.com/coder/websocket"
)

// WebSocketHandler serves /ws/messages: a bidirectional channel that
// pushes work messages and notifications to the client and accepts
// answers to pending questions.
type WebSocketHandler struct {
	messages      *messaging.Service
	emitter       *events.Emitter
	registry      *Registry
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(messages *messaging.Service, emitter *events.Emitter, registry *Registry, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		messages:      messages,
		emitter:       emitter,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsFrame is the wire format in both directions.
type wsFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`

	Event *events.Event `json:"event,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.registry.Register(sessionID, ws)
	defer h.registry.Unregister(sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Deliver anything that piled up while the client was offline.
	for _, msg := range h.messages.GetUnreadMessages(sessionID) {
		if err := h.writeJSON(ctx, ws, wsFrame{Type: "message", MessageID: msg.ID, Content: msg.Content}); err != nil {
			slog.Debug("Failed to send backlog message", "error", err, "session_id", sessionID)
			return
		}
	}

	// Buffered so a slow client drops events rather than blocking the
	// emitter. Dropped events still surface via the status endpoints.
	eventCh := make(chan events.Event, 32)
	unsubscribe := h.emitter.Subscribe(sessionID, func(ev events.Event) {
		select {
		case eventCh <- ev:
		default:
			slog.Warn("WebSocket client too slow, dropping event", "session_id", sessionID)
		}
	})
	defer unsubscribe()

	go func() {
		defer cancel()
		h.outputLoop(ctx, ws, eventCh, sessionID)
	}()

	h.inputLoop(ctx, ws, sessionID)
	slog.Info("Message channel session ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
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

// inputLoop reads client frames and dispatches responses to pending
// questions.
func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			if err := h.writeJSON(ctx, ws, wsFrame{Type: "error", Error: "invalid frame"}); err != nil {
				return
			}
			continue
		}

		switch frame.Type {
		case "respond":
			h.handleRespond(ctx, ws, sessionID, frame)
		case "ping":
			if err := h.writeJSON(ctx, ws, wsFrame{Type: "pong"}); err != nil {
				return
			}
		default:
			if err := h.writeJSON(ctx, ws, wsFrame{Type: "error", Error: "unknown frame type"}); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleRespond(ctx context.Context, ws *websocket.Conn, sessionID string, frame wsFrame) {
	if frame.MessageID == "" || frame.Content == "" {
		_ = h.writeJSON(ctx, ws, wsFrame{Type: "error", Error: "message_id and content are required"})
		return
	}

	response := h.messages.RespondFromUser(frame.MessageID, sessionID, frame.Content)
	if response == nil {
		_ = h.writeJSON(ctx, ws, wsFrame{Type: "error", MessageID: frame.MessageID, Error: "message not found or already answered"})
		return
	}

	slog.Info("Question answered over WebSocket",
		"session_id", sessionID,
		"message_id", frame.MessageID,
		"response_id", response.ID,
	)
	_ = h.writeJSON(ctx, ws, wsFrame{Type: "ack", MessageID: frame.MessageID, Content: response.ID})
}

// outputLoop pushes session events to the client.
func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, eventCh <-chan events.Event, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-eventCh:
			if err := h.writeJSON(ctx, ws, wsFrame{Type: "event", Event: &ev}); err != nil {
				slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
