// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/sidework/internal/domain"
)

// Repository defines the interface for persisting session and work item
// state. Callers on the conversational path treat every method as
// best-effort: errors are logged at the call site and never surfaced to
// the user (availability over durability).
type Repository interface {
	// SaveSession upserts a session record, including its serialized
	// message history, preferences and counters.
	SaveSession(ctx context.Context, session *domain.Session) error

	// LoadSession retrieves a session by id, without its work items.
	// Returns (nil, nil) when the session does not exist.
	LoadSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SaveWorkItem upserts a work item record.
	SaveWorkItem(ctx context.Context, item *domain.AsyncWorkItem) error

	// LoadWorkItems retrieves all work items owned by a session, oldest
	// first.
	LoadWorkItems(ctx context.Context, sessionID string) ([]*domain.AsyncWorkItem, error)

	// DeleteSession removes a session and its work items.
	DeleteSession(ctx context.Context, sessionID string) error

	// GetActiveWorkItems retrieves every item in the accepted or
	// in_progress state across all sessions, for restart-time visibility.
	GetActiveWorkItems(ctx context.Context) ([]*domain.AsyncWorkItem, error)

	// CleanupOldSessions deletes sessions (and their work items) whose
	// last activity is older than maxAge. Returns the number of sessions
	// removed.
	CleanupOldSessions(ctx context.Context, maxAge time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
