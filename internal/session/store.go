// Package session implements the authoritative per-conversation state
// store: an in-memory write-through cache over the durable repository.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/sidework/internal/domain"
	"github.com/ashureev/sidework/internal/store"
)

const persistTimeout = 5 * time.Second

// WorkUpdate carries the partial fields of an async work item update.
// Nil fields are left untouched.
type WorkUpdate struct {
	Status      *domain.WorkStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      any
	Error       *string
}

// Store holds every live session. All mutation goes through its methods;
// each mutating call updates the in-memory record synchronously and fires
// an asynchronous best-effort write to the durable store. Persistence
// failures are logged and swallowed — the conversational path never
// blocks on or fails because of a storage outage.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	repo     store.Repository
}

// NewStore creates a session store backed by repo. A nil repo disables
// persistence (used by tests).
func NewStore(repo store.Repository) *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
		repo:     repo,
	}
}

// GetOrCreate returns a snapshot of the session, creating it lazily on
// first reference. On a cache miss the durable store is consulted before
// a fresh record is minted.
func (s *Store) GetOrCreate(sessionID string) *domain.Session {
	s.mu.Lock()
	sess := s.getOrCreateLocked(sessionID)
	snapshot := cloneSession(sess)
	s.mu.Unlock()
	return snapshot
}

func (s *Store) getOrCreateLocked(sessionID string) *domain.Session {
	if sess, ok := s.sessions[sessionID]; ok {
		return sess
	}

	if sess := s.loadFromRepo(sessionID); sess != nil {
		s.sessions[sessionID] = sess
		return sess
	}

	now := time.Now()
	sess := &domain.Session{
		ID:             sessionID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.sessions[sessionID] = sess
	s.persistSession(sess)
	return sess
}

func (s *Store) loadFromRepo(sessionID string) *domain.Session {
	if s.repo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	sess, err := s.repo.LoadSession(ctx, sessionID)
	if err != nil {
		slog.Warn("failed to load session from durable store", "session_id", sessionID, "error", err)
		return nil
	}
	if sess == nil {
		return nil
	}
	items, err := s.repo.LoadWorkItems(ctx, sessionID)
	if err != nil {
		slog.Warn("failed to load work items from durable store", "session_id", sessionID, "error", err)
	} else {
		sess.Work = items
	}
	return sess
}

// AddMessage appends a conversation message and bumps counters.
func (s *Store) AddMessage(sessionID string, msg domain.ConversationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	sess.Messages = append(sess.Messages, msg)
	sess.Counters.TotalMessages++
	sess.LastActivityAt = time.Now()
	s.persistSession(sess)
}

// AddAsyncWork attaches a new work item to the session.
func (s *Store) AddAsyncWork(sessionID string, item *domain.AsyncWorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	owned := cloneWorkItem(item)
	sess.Work = append(sess.Work, owned)
	sess.Counters.TotalAsyncWork++
	sess.LastActivityAt = time.Now()
	s.persistSession(sess)
	s.persistWorkItem(owned)
}

// UpdateAsyncWork applies a partial update to a work item. Illegal status
// transitions are rejected (the state machine is monotonic, with the
// cancellation escape). A first transition into accepted flips the
// session's accepted-before preference and bumps the acceptance count
// exactly once; a transition into completed bumps the success counter.
// Returns a snapshot of the updated item, or nil if the item is unknown
// or the transition was rejected.
func (s *Store) UpdateAsyncWork(sessionID, workID string, update WorkUpdate) *domain.AsyncWorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	item := sess.WorkByID(workID)
	if item == nil {
		return nil
	}

	if update.Status != nil && *update.Status != item.Status {
		next := *update.Status
		if !item.Status.CanTransitionTo(next) {
			slog.Warn("rejected illegal work status transition",
				"work_id", workID, "from", item.Status, "to", next)
			return nil
		}
		item.Status = next

		switch next {
		case domain.StatusAccepted:
			if !sess.Preferences.HasAcceptedAsyncBefore {
				sess.Preferences.HasAcceptedAsyncBefore = true
			}
			sess.Preferences.AcceptanceCount++
		case domain.StatusCompleted:
			sess.Counters.SuccessfulAsyncWork++
		}
	}

	if update.StartedAt != nil {
		item.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		item.CompletedAt = update.CompletedAt
	}
	if update.Result != nil {
		item.Result = update.Result
	}
	if update.Error != nil {
		item.Error = *update.Error
	}

	sess.LastActivityAt = time.Now()
	s.persistSession(sess)
	s.persistWorkItem(item)
	return cloneWorkItem(item)
}

// RecordDecline notes that the user turned down an offer.
func (s *Store) RecordDecline(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	sess.Preferences.DeclineCount++
	sess.LastActivityAt = time.Now()
	s.persistSession(sess)
}

// WorkItem returns a snapshot of one work item, or nil.
func (s *Store) WorkItem(sessionID, workID string) *domain.AsyncWorkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	item := sess.WorkByID(workID)
	if item == nil {
		return nil
	}
	return cloneWorkItem(item)
}

// GetActiveWork returns snapshots of accepted and executing items.
func (s *Store) GetActiveWork(sessionID string) []*domain.AsyncWorkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return cloneWorkItems(sess.ActiveWork())
}

// GetPendingOffers returns snapshots of items awaiting a user decision.
func (s *Store) GetPendingOffers(sessionID string) []*domain.AsyncWorkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return cloneWorkItems(sess.PendingOffers())
}

// GetCompletedWork returns snapshots of completed items.
func (s *Store) GetCompletedWork(sessionID string) []*domain.AsyncWorkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return cloneWorkItems(sess.CompletedWork())
}

// HasActiveWork reports whether the session has accepted or executing
// items.
func (s *Store) HasActiveWork(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	return ok && sess.HasActiveWork()
}

// ConversationLength returns the number of messages in the session.
func (s *Store) ConversationLength(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(sess.Messages)
}

// HadRecentOffer scans the last n messages for the offer flag. Offers
// older than that window are not recognized as recent.
func (s *Store) HadRecentOffer(sessionID string, n int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	for _, msg := range sess.RecentMessages(n) {
		if msg.ContainsOffer {
			return true
		}
	}
	return false
}

// DeleteSession removes the session from the cache and the durable store.
func (s *Store) DeleteSession(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if s.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
			slog.Warn("failed to delete session from durable store", "session_id", sessionID, "error", err)
		}
	}()
}

// StartSweeper runs a background goroutine that evicts sessions from the
// in-memory cache (never from durable storage) once their last activity
// is older than ttl.
func (s *Store) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if evicted := s.sweep(ttl); evicted > 0 {
					slog.Info("Session sweeper evicted inactive sessions", "count", evicted)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (s *Store) sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if sess.LastActivityAt.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// CachedSessions reports the number of sessions currently in memory.
func (s *Store) CachedSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// persistSession fires a best-effort async write of the session record.
// Callers must hold s.mu; the write uses a snapshot so the goroutine
// never touches live state.
func (s *Store) persistSession(sess *domain.Session) {
	if s.repo == nil {
		return
	}
	snapshot := cloneSession(sess)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.repo.SaveSession(ctx, snapshot); err != nil {
			slog.Warn("failed to persist session", "session_id", snapshot.ID, "error", err)
		}
	}()
}

// persistWorkItem fires a best-effort async write of one work item.
func (s *Store) persistWorkItem(item *domain.AsyncWorkItem) {
	if s.repo == nil {
		return
	}
	snapshot := cloneWorkItem(item)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.repo.SaveWorkItem(ctx, snapshot); err != nil {
			slog.Warn("failed to persist work item", "work_id", snapshot.ID, "error", err)
		}
	}()
}

func cloneSession(sess *domain.Session) *domain.Session {
	out := *sess
	out.Messages = append([]domain.ConversationMessage(nil), sess.Messages...)
	out.Work = cloneWorkItems(sess.Work)
	return &out
}

func cloneWorkItems(items []*domain.AsyncWorkItem) []*domain.AsyncWorkItem {
	if items == nil {
		return nil
	}
	out := make([]*domain.AsyncWorkItem, len(items))
	for i, item := range items {
		out[i] = cloneWorkItem(item)
	}
	return out
}

func cloneWorkItem(item *domain.AsyncWorkItem) *domain.AsyncWorkItem {
	out := *item
	if item.StartedAt != nil {
		ts := *item.StartedAt
		out.StartedAt = &ts
	}
	if item.CompletedAt != nil {
		ts := *item.CompletedAt
		out.CompletedAt = &ts
	}
	return &out
}
