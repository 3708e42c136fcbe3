package domain

import (
	"time"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ConversationMessage is one entry in a session's message history.
type ConversationMessage struct {
	Role                 MessageRole `json:"role"`
	Text                 string      `json:"text"`
	Timestamp            time.Time   `json:"timestamp"`
	ContainsOffer        bool        `json:"contains_offer,omitempty"`
	ContainsConfirmation bool        `json:"contains_confirmation,omitempty"`
}

// Preferences tracks a user's historical response to async offers.
type Preferences struct {
	HasAcceptedAsyncBefore bool `json:"has_accepted_async_before"`
	AcceptanceCount        int  `json:"acceptance_count"`
	DeclineCount           int  `json:"decline_count"`
}

// Counters are session-level aggregate stats.
type Counters struct {
	TotalMessages       int `json:"total_messages"`
	TotalAsyncWork      int `json:"total_async_work"`
	SuccessfulAsyncWork int `json:"successful_async_work"`
}

// Session is the authoritative per-conversation record. It is owned
// exclusively by the session store; other components read and mutate it
// through store methods only.
type Session struct {
	ID             string                `json:"id"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActivityAt time.Time             `json:"last_activity_at"`
	Messages       []ConversationMessage `json:"messages"`
	Work           []*AsyncWorkItem      `json:"work"`
	Preferences    Preferences           `json:"preferences"`
	Counters       Counters              `json:"counters"`
}

// WorkByID returns the session's work item with the given id, or nil.
func (s *Session) WorkByID(id string) *AsyncWorkItem {
	for _, w := range s.Work {
		if w.ID == id {
			return w
		}
	}
	return nil
}

// ActiveWork returns items that are accepted or in progress.
func (s *Session) ActiveWork() []*AsyncWorkItem {
	var active []*AsyncWorkItem
	for _, w := range s.Work {
		if w.IsActive() {
			active = append(active, w)
		}
	}
	return active
}

// PendingOffers returns items still waiting on a user decision.
func (s *Session) PendingOffers() []*AsyncWorkItem {
	var pending []*AsyncWorkItem
	for _, w := range s.Work {
		if w.Status == StatusPendingOffer || w.Status == StatusOffered {
			pending = append(pending, w)
		}
	}
	return pending
}

// CompletedWork returns successfully completed items.
func (s *Session) CompletedWork() []*AsyncWorkItem {
	var done []*AsyncWorkItem
	for _, w := range s.Work {
		if w.Status == StatusCompleted {
			done = append(done, w)
		}
	}
	return done
}

// HasActiveWork reports whether any item is accepted or executing.
func (s *Session) HasActiveWork() bool {
	return len(s.ActiveWork()) > 0
}

// RecentMessages returns the last n messages from the history.
func (s *Session) RecentMessages(n int) []ConversationMessage {
	if n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
