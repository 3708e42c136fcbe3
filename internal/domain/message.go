package domain

import (
	"time"
)

// AsyncMessageType categorizes messages exchanged between background work
// and the user.
type AsyncMessageType string

const (
	// MessageQuestion asks the user something and expects an answer.
	MessageQuestion AsyncMessageType = "question"
	// MessageUpdate is a progress note from the work.
	MessageUpdate AsyncMessageType = "update"
	// MessageInfo is informational output that needs no reply.
	MessageInfo AsyncMessageType = "info"
	// MessageResponse is the user's answer to a question.
	MessageResponse AsyncMessageType = "response"
)

// MessageDirection indicates which way an async message flows.
type MessageDirection string

const (
	DirectionToUser   MessageDirection = "to_user"
	DirectionFromUser MessageDirection = "from_user"
)

// AsyncMessage is one message attached to a work item's thread.
// Questions flagged RequiresResponse are tracked until the linked
// response (ResponseID) is recorded.
type AsyncMessage struct {
	ID               string           `json:"id"`
	WorkID           string           `json:"work_id"`
	SessionID        string           `json:"session_id"`
	Type             AsyncMessageType `json:"type"`
	Direction        MessageDirection `json:"direction"`
	Content          string           `json:"content"`
	RequiresResponse bool             `json:"requires_response,omitempty"`
	ResponseID       string           `json:"response_id,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// Answered reports whether a question has a recorded response.
func (m *AsyncMessage) Answered() bool {
	return m.ResponseID != ""
}
