// Package domain contains core domain types for the sidework service.
package domain

import (
	"time"
)

// WorkType identifies which registered executor handles a work item.
type WorkType string

const (
	// WorkTypeResearch is long-form research work.
	WorkTypeResearch WorkType = "research"
	// WorkTypeTool is tool/artifact building work.
	WorkTypeTool WorkType = "tool"
)

// WorkStatus is the lifecycle state of an async work item.
type WorkStatus string

const (
	StatusPendingOffer WorkStatus = "pending_offer"
	StatusOffered      WorkStatus = "offered"
	StatusAccepted     WorkStatus = "accepted"
	StatusInProgress   WorkStatus = "in_progress"
	StatusCompleted    WorkStatus = "completed"
	StatusFailed       WorkStatus = "failed"
	StatusCancelled    WorkStatus = "cancelled"
)

// statusRank orders the linear portion of the state machine.
var statusRank = map[WorkStatus]int{
	StatusPendingOffer: 0,
	StatusOffered:      1,
	StatusAccepted:     2,
	StatusInProgress:   3,
	StatusCompleted:    4,
	StatusFailed:       4,
	StatusCancelled:    4,
}

// IsTerminal reports whether the status admits no further transitions.
func (s WorkStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
// Transitions are monotonic along the linear chain, with cancellation
// reachable from any non-terminal state.
func (s WorkStatus) CanTransitionTo(next WorkStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	if next == StatusCompleted || next == StatusFailed {
		return s == StatusInProgress
	}
	return statusRank[next] == statusRank[s]+1
}

// AsyncWorkItem is the durable record of one unit of offloadable work.
type AsyncWorkItem struct {
	ID                string        `json:"id"`
	SessionID         string        `json:"session_id"`
	Type              WorkType      `json:"type"`
	Request           string        `json:"request"`
	Status            WorkStatus    `json:"status"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	Result            any           `json:"result,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// IsActive reports whether the item is accepted or currently executing.
func (w *AsyncWorkItem) IsActive() bool {
	return w.Status == StatusAccepted || w.Status == StatusInProgress
}

// QueuedWork is the ephemeral scheduler projection of an accepted item.
// It exists only between enqueue and dispatch (or cancellation) and is
// never persisted.
type QueuedWork struct {
	ID         string
	SessionID  string
	Request    string
	Type       WorkType
	Priority   int
	EnqueuedAt time.Time
}
