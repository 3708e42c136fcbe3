// Package messaging threads questions, updates and answers between
// background work and the user.
package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/sidework/internal/domain"
	"github.com/ashureev/sidework/internal/events"
	"github.com/google/uuid"
)

// ThreadEntry pairs an outbound message with its answer, if any.
type ThreadEntry struct {
	Message  *domain.AsyncMessage `json:"message"`
	Response *domain.AsyncMessage `json:"response,omitempty"`
}

// defaultResponseTimeout bounds WaitForResponse when neither the caller
// nor the service configuration supplies a timeout.
const defaultResponseTimeout = 5 * time.Minute

// Service stores async messages per work item and wakes waiters when a
// question is answered. Messages are retained until the owning work
// item's thread is explicitly cleared.
type Service struct {
	mu              sync.Mutex
	messages        map[string]*domain.AsyncMessage
	byWork          map[string][]string                    // workID -> message ids, in send order
	waiters         map[string][]chan *domain.AsyncMessage // messageID -> response waiters
	emitter         *events.Emitter
	responseTimeout time.Duration
}

// NewService creates a message service. Every outbound message is also
// published on the event emitter. responseTimeout caps how long
// WaitForResponse blocks when a caller passes no timeout of its own;
// zero or negative falls back to five minutes.
func NewService(emitter *events.Emitter, responseTimeout time.Duration) *Service {
	if responseTimeout <= 0 {
		responseTimeout = defaultResponseTimeout
	}
	return &Service{
		messages:        make(map[string]*domain.AsyncMessage),
		byWork:          make(map[string][]string),
		waiters:         make(map[string][]chan *domain.AsyncMessage),
		emitter:         emitter,
		responseTimeout: responseTimeout,
	}
}

// SendToUser records an outbound message from background work and
// returns its id. Messages flagged requiresResponse are tracked until
// answered.
func (s *Service) SendToUser(workID, sessionID string, msgType domain.AsyncMessageType, content string, requiresResponse bool) string {
	msg := &domain.AsyncMessage{
		ID:               uuid.NewString(),
		WorkID:           workID,
		SessionID:        sessionID,
		Type:             msgType,
		Direction:        domain.DirectionToUser,
		Content:          content,
		RequiresResponse: requiresResponse,
		Timestamp:        time.Now(),
	}

	s.mu.Lock()
	s.messages[msg.ID] = msg
	s.byWork[workID] = append(s.byWork[workID], msg.ID)
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.EmitMessageReceived(sessionID, workID, map[string]any{
			"message_id":        msg.ID,
			"message_type":      string(msgType),
			"content":           content,
			"requires_response": requiresResponse,
		})
	}

	slog.Debug("Async message sent to user",
		"message_id", msg.ID,
		"work_id", workID,
		"requires_response", requiresResponse)
	return msg.ID
}

// RespondFromUser records the user's answer to a question and wakes any
// goroutine blocked in WaitForResponse. Returns nil when the question is
// unknown, belongs to another session, or was already answered.
func (s *Service) RespondFromUser(messageID, sessionID, content string) *domain.AsyncMessage {
	s.mu.Lock()

	question, ok := s.messages[messageID]
	if !ok || question.SessionID != sessionID || question.Answered() {
		s.mu.Unlock()
		return nil
	}

	resp := &domain.AsyncMessage{
		ID:        uuid.NewString(),
		WorkID:    question.WorkID,
		SessionID: sessionID,
		Type:      domain.MessageResponse,
		Direction: domain.DirectionFromUser,
		Content:   content,
		Timestamp: time.Now(),
	}
	question.ResponseID = resp.ID
	s.messages[resp.ID] = resp
	s.byWork[question.WorkID] = append(s.byWork[question.WorkID], resp.ID)

	waiters := s.waiters[messageID]
	delete(s.waiters, messageID)
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- resp
	}

	slog.Debug("User response recorded", "message_id", messageID, "response_id", resp.ID)
	return resp
}

// GetUserResponse returns the answer to a question, or nil.
func (s *Service) GetUserResponse(messageID string) *domain.AsyncMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	question, ok := s.messages[messageID]
	if !ok || !question.Answered() {
		return nil
	}
	return s.messages[question.ResponseID]
}

// WaitForResponse blocks until the question is answered, the timeout
// elapses or ctx is cancelled. Returns nil on timeout/cancellation. A
// zero or negative timeout means the service's configured response
// timeout. The wake-up is channel-based, keyed by message id.
func (s *Service) WaitForResponse(ctx context.Context, messageID string, timeout time.Duration) *domain.AsyncMessage {
	if timeout <= 0 {
		timeout = s.responseTimeout
	}

	s.mu.Lock()
	question, ok := s.messages[messageID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if question.Answered() {
		resp := s.messages[question.ResponseID]
		s.mu.Unlock()
		return resp
	}

	ch := make(chan *domain.AsyncMessage, 1)
	s.waiters[messageID] = append(s.waiters[messageID], ch)
	s.mu.Unlock()

	defer s.removeWaiter(messageID, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (s *Service) removeWaiter(messageID string, ch chan *domain.AsyncMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiters := s.waiters[messageID]
	for i, w := range waiters {
		if w == ch {
			s.waiters[messageID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(s.waiters[messageID]) == 0 {
		delete(s.waiters, messageID)
	}
}

// GetPendingQuestions returns the session's unanswered questions.
func (s *Service) GetPendingQuestions(sessionID string) []*domain.AsyncMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*domain.AsyncMessage
	for _, msg := range s.messages {
		if msg.SessionID == sessionID &&
			msg.Type == domain.MessageQuestion &&
			msg.RequiresResponse && !msg.Answered() {
			pending = append(pending, msg)
		}
	}
	return pending
}

// GetUnreadMessages returns outbound messages awaiting a response.
func (s *Service) GetUnreadMessages(sessionID string) []*domain.AsyncMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unread []*domain.AsyncMessage
	for _, msg := range s.messages {
		if msg.SessionID == sessionID &&
			msg.Direction == domain.DirectionToUser &&
			msg.RequiresResponse && !msg.Answered() {
			unread = append(unread, msg)
		}
	}
	return unread
}

// GetThread reconstructs a work item's messages as question→answer
// pairs, in send order. Responses appear attached to their question, not
// as separate entries.
func (s *Service) GetThread(workID string) []ThreadEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var thread []ThreadEntry
	for _, id := range s.byWork[workID] {
		msg := s.messages[id]
		if msg == nil || msg.Direction == domain.DirectionFromUser {
			continue
		}
		entry := ThreadEntry{Message: msg}
		if msg.Answered() {
			entry.Response = s.messages[msg.ResponseID]
		}
		thread = append(thread, entry)
	}
	return thread
}

// ClearMessages drops a work item's entire thread.
func (s *Service) ClearMessages(workID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byWork[workID] {
		delete(s.messages, id)
		delete(s.waiters, id)
	}
	delete(s.byWork, workID)
}
