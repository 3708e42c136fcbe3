package api

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/sidework/internal/events"
	"github.com/ashureev/sidework/internal/identity"
	"github.com/go-chi/chi/v5"
)

// sseReplayQueue buffers events for disconnected clients, sharded per
// session. Each session gets its own bounded list so one session's burst
// cannot evict events belonging to another.
type sseReplayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List // sessionID -> queued events
	maxSize int
}

type queuedEvent struct {
	EventID int64
	Event   events.Event
}

func newSSEReplayQueue(maxSize int) *sseReplayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &sseReplayQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

func (q *sseReplayQueue) enqueue(sessionID string, eventID int64, ev events.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[sessionID]
	if !ok {
		l = list.New()
		q.queues[sessionID] = l
	}
	l.PushBack(&queuedEvent{EventID: eventID, Event: ev})
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

func (q *sseReplayQueue) missedEvents(sessionID string, afterEventID int64) []*queuedEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[sessionID]
	if !ok {
		return nil
	}
	var missed []*queuedEvent
	for e := l.Front(); e != nil; e = e.Next() {
		qe := e.Value.(*queuedEvent)
		if qe.EventID > afterEventID {
			missed = append(missed, qe)
		}
	}
	return missed
}

func (q *sseReplayQueue) prune(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, sessionID)
}

// StreamHandler serves the SSE endpoint that pushes work lifecycle
// events, progress updates and notifications to connected clients.
type StreamHandler struct {
	*Handler
	emitter *events.Emitter
	replay  *sseReplayQueue

	counterMu    sync.Mutex
	eventCounter int64

	connectionsMu sync.Mutex
	connections   map[string]int // sessionID -> open connection count
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(base *Handler, emitter *events.Emitter) *StreamHandler {
	return &StreamHandler{
		Handler:     base,
		emitter:     emitter,
		replay:      newSSEReplayQueue(base.cfg.SSE.ReplayQueueSize),
		connections: make(map[string]int),
	}
}

// RegisterRoutes registers the stream route.
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/agent/stream", h.HandleStream)
}

func (h *StreamHandler) nextEventID() int64 {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.eventCounter++
	return h.eventCounter
}

// HandleStream streams session events over SSE. Reconnecting clients
// send Last-Event-ID and receive events they missed from the per-session
// replay queue.
//
//nolint:gocognit // SSE lifecycle handling intentionally keeps branches together.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Parse Last-Event-ID header or query param for replay.
	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			slog.Info("SSE client reconnecting with Last-Event-ID",
				"session_id", sessionID,
				"last_event_id", lastEventID,
			)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.SSE.RetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "session_id", sessionID)
		return
	}
	flusher.Flush()

	// Buffered so a slow client sheds events instead of blocking the
	// emitter; shed events remain recoverable through the replay queue.
	eventCh := make(chan queuedEvent, 32)
	unsubscribe := h.emitter.Subscribe(sessionID, func(ev events.Event) {
		id := h.nextEventID()
		h.replay.enqueue(sessionID, id, ev)
		select {
		case eventCh <- queuedEvent{EventID: id, Event: ev}:
		default:
			slog.Warn("SSE client too slow, dropping live event",
				"session_id", sessionID, "event_id", id)
		}
	})
	defer unsubscribe()

	h.connectionsMu.Lock()
	h.connections[sessionID]++
	h.connectionsMu.Unlock()

	defer func() {
		h.connectionsMu.Lock()
		h.connections[sessionID]--
		last := h.connections[sessionID] <= 0
		if last {
			delete(h.connections, sessionID)
		}
		h.connectionsMu.Unlock()
		// Prune the replay queue when the last connection for this
		// session closes, freeing memory promptly.
		if last {
			h.replay.prune(sessionID)
		}
		slog.Info("SSE connection closed", "session_id", sessionID)
	}()

	// Send missed events if reconnecting.
	if lastEventID > 0 {
		missed := h.replay.missedEvents(sessionID, lastEventID)
		if len(missed) > 0 {
			slog.Info("Sending missed events",
				"session_id", sessionID,
				"count", len(missed),
			)
			for _, qe := range missed {
				if err := h.writeEvent(w, qe.EventID, qe.Event); err != nil {
					slog.Warn("failed to replay SSE event", "error", err, "session_id", sessionID)
					return
				}
			}
			flusher.Flush()
		}
	}

	connectedID := h.nextEventID()
	connectedData := fmt.Sprintf(`{"status":"connected","session_id":%q,"event_id":%d}`,
		sessionID, connectedID)
	if err := writeSSEWithID(w, connectedID, "connected", connectedData); err != nil {
		slog.Warn("failed to write SSE connected event", "error", err, "session_id", sessionID)
		return
	}
	flusher.Flush()

	slog.Info("SSE connection established",
		"session_id", sessionID,
		"event_id", connectedID,
		"reconnect", lastEventID > 0,
	)

	keepalive := time.NewTicker(h.cfg.SSE.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("SSE stream disconnected", "session_id", sessionID)
			return
		case qe := <-eventCh:
			if err := h.writeEvent(w, qe.EventID, qe.Event); err != nil {
				slog.Warn("failed to write SSE event", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Warn("failed to write SSE keepalive ping", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) writeEvent(w io.Writer, eventID int64, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return writeSSEWithID(w, eventID, string(ev.Type), string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
