// Package events implements session-scoped pub/sub fan-out of work
// lifecycle, progress and message events.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	WorkStarted          EventType = "work_started"
	WorkProgress         EventType = "work_progress"
	WorkCompleted        EventType = "work_completed"
	WorkFailed           EventType = "work_failed"
	WorkCancelled        EventType = "work_cancelled"
	MessageReceived      EventType = "message_received"
	NotificationReceived EventType = "notification_received"
)

// Event is one occurrence delivered to session subscribers.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	WorkID    string         `json:"work_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives events for a session. Handlers run synchronously on
// the emitting goroutine; panics are caught per handler so one faulty
// subscriber cannot break fan-out to the others.
type Handler func(Event)

// Emitter fans events out to every current subscriber of a session, in
// emission order. There is no delivery guarantee beyond "while
// subscribed" and no hard cap on subscriber count.
type Emitter struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]Handler // sessionID -> subID -> handler
	nextID int64
}

// NewEmitter creates an event emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		subs: make(map[string]map[int64]Handler),
	}
}

// Subscribe registers a handler for a session's events and returns the
// matching unsubscribe function.
func (e *Emitter) Subscribe(sessionID string, handler Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	if _, ok := e.subs[sessionID]; !ok {
		e.subs[sessionID] = make(map[int64]Handler)
	}
	e.subs[sessionID][id] = handler
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if handlers, ok := e.subs[sessionID]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(e.subs, sessionID)
			}
		}
	}
}

// SubscriberCount reports the number of active subscribers for a session.
func (e *Emitter) SubscriberCount(sessionID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[sessionID])
}

// Emit delivers an event to every current subscriber of its session.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.subs[event.SessionID]))
	for _, h := range e.subs[event.SessionID] {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		e.deliver(h, event)
	}
}

func (e *Emitter) deliver(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked",
				"type", event.Type,
				"session_id", event.SessionID,
				"panic", r)
		}
	}()
	h(event)
}

// EmitWorkStarted publishes a work_started event.
func (e *Emitter) EmitWorkStarted(sessionID, workID string) {
	e.Emit(Event{Type: WorkStarted, SessionID: sessionID, WorkID: workID})
}

// EmitWorkProgress publishes a work_progress event.
func (e *Emitter) EmitWorkProgress(sessionID, workID, stage string, percentage int, message string) {
	e.Emit(Event{
		Type:      WorkProgress,
		SessionID: sessionID,
		WorkID:    workID,
		Payload: map[string]any{
			"stage":      stage,
			"percentage": percentage,
			"message":    message,
		},
	})
}

// EmitWorkCompleted publishes a work_completed event.
func (e *Emitter) EmitWorkCompleted(sessionID, workID string, result any) {
	e.Emit(Event{
		Type:      WorkCompleted,
		SessionID: sessionID,
		WorkID:    workID,
		Payload:   map[string]any{"result": result},
	})
}

// EmitWorkFailed publishes a work_failed event.
func (e *Emitter) EmitWorkFailed(sessionID, workID, errMessage string) {
	e.Emit(Event{
		Type:      WorkFailed,
		SessionID: sessionID,
		WorkID:    workID,
		Payload:   map[string]any{"error": errMessage},
	})
}

// EmitWorkCancelled publishes a work_cancelled event.
func (e *Emitter) EmitWorkCancelled(sessionID, workID string) {
	e.Emit(Event{Type: WorkCancelled, SessionID: sessionID, WorkID: workID})
}

// EmitMessageReceived publishes a message_received event.
func (e *Emitter) EmitMessageReceived(sessionID, workID string, payload map[string]any) {
	e.Emit(Event{
		Type:      MessageReceived,
		SessionID: sessionID,
		WorkID:    workID,
		Payload:   payload,
	})
}

// EmitNotificationReceived publishes a notification_received event.
func (e *Emitter) EmitNotificationReceived(sessionID, workID, message string) {
	e.Emit(Event{
		Type:      NotificationReceived,
		SessionID: sessionID,
		WorkID:    workID,
		Payload:   map[string]any{"message": message},
	})
}
