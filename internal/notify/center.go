// Package notify holds user-facing notifications about finished
// background work until the next conversational turn delivers them.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/sidework/internal/events"
	"github.com/google/uuid"
)

// Notification is one pending user-facing message about a work outcome.
type Notification struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	WorkID    string    `json:"work_id"`
	Message   string    `json:"message"`
	Failure   bool      `json:"failure,omitempty"`
	Result    any       `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Center collects notifications per session. Failures surface here as a
// message on the next turn, never as a synchronous error to the user.
type Center struct {
	mu      sync.Mutex
	pending map[string][]*Notification
	emitter *events.Emitter
}

// NewCenter creates a notification center. Every stored notification is
// mirrored onto the event emitter for live subscribers.
func NewCenter(emitter *events.Emitter) *Center {
	return &Center{
		pending: make(map[string][]*Notification),
		emitter: emitter,
	}
}

// NotifyCompletion records a completion notification for the session.
func (c *Center) NotifyCompletion(sessionID, workID string, result any) {
	c.add(&Notification{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		WorkID:    workID,
		Message:   "Your background work is finished — here's what I found.",
		Result:    result,
		CreatedAt: time.Now(),
	})
}

// NotifyFailure records a failure notification for the session.
func (c *Center) NotifyFailure(sessionID, workID, errMessage string) {
	c.add(&Notification{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		WorkID:    workID,
		Message:   fmt.Sprintf("I hit a problem with the background work: %s", errMessage),
		Failure:   true,
		CreatedAt: time.Now(),
	})
}

func (c *Center) add(n *Notification) {
	c.mu.Lock()
	c.pending[n.SessionID] = append(c.pending[n.SessionID], n)
	c.mu.Unlock()

	if c.emitter != nil {
		c.emitter.EmitNotificationReceived(n.SessionID, n.WorkID, n.Message)
	}
}

// PendingFor returns the session's undelivered notifications, oldest
// first.
func (c *Center) PendingFor(sessionID string) []*Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.pending[sessionID]
	out := make([]*Notification, len(pending))
	copy(out, pending)
	return out
}

// Clear removes one delivered notification.
func (c *Center) Clear(sessionID, notificationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.pending[sessionID]
	for i, n := range pending {
		if n.ID == notificationID {
			c.pending[sessionID] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	if len(c.pending[sessionID]) == 0 {
		delete(c.pending, sessionID)
	}
}

// ClearAll removes every pending notification for a session.
func (c *Center) ClearAll(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, sessionID)
}
