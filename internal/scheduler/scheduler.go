// Package scheduler implements the priority work queue with bounded
// concurrent execution of registered per-type executors.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/sidework/internal/domain"
	"github.com/ashureev/sidework/internal/events"
	"github.com/ashureev/sidework/internal/notify"
	"github.com/ashureev/sidework/internal/progress"
	"github.com/ashureev/sidework/internal/session"
)

// Executor performs the actual work for one work type. It must honor ctx
// cancellation (scheduler shutdown, watchdog timeout) and report progress
// through the tracker. Supplied by the agent-generation subsystem.
type Executor func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error)

// Config holds scheduler tunables.
type Config struct {
	// MaxConcurrent bounds the globally executing set, shared across all
	// sessions.
	MaxConcurrent int
	// ExecTimeout bounds one executor invocation; on expiry the item is
	// marked failed and its slot freed. Zero disables the watchdog.
	ExecTimeout time.Duration
}

// Status is a point-in-time view of queue occupancy.
type Status struct {
	Queued    int `json:"queued"`
	Executing int `json:"executing"`
}

// Scheduler admits at most MaxConcurrent items to execution at any
// instant. The pending queue is ordered by descending priority with FIFO
// tie-break; slots are shared globally, so no cross-session ordering is
// guaranteed.
type Scheduler struct {
	cfg      Config
	sessions *session.Store
	emitter  *events.Emitter
	notifier *notify.Center
	registry *progress.Registry

	mu        sync.Mutex
	executors map[domain.WorkType]Executor
	pending   []*domain.QueuedWork
	executing map[string]*domain.QueuedWork
	stopped   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. Executors are registered separately before
// any work is enqueued.
func New(cfg Config, sessions *session.Store, emitter *events.Emitter, notifier *notify.Center, registry *progress.Registry) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		sessions:  sessions,
		emitter:   emitter,
		notifier:  notifier,
		registry:  registry,
		executors: make(map[domain.WorkType]Executor),
		executing: make(map[string]*domain.QueuedWork),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// RegisterExecutor installs the executor for a work type.
func (s *Scheduler) RegisterExecutor(workType domain.WorkType, exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[workType] = exec
}

// Enqueue inserts work into the pending queue and attempts dispatch.
// Returns an error if the scheduler is stopped or the work type has no
// registered executor.
func (s *Scheduler) Enqueue(work *domain.QueuedWork) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler stopped")
	}
	if _, ok := s.executors[work.Type]; !ok {
		return fmt.Errorf("no executor registered for work type %q", work.Type)
	}

	if work.EnqueuedAt.IsZero() {
		work.EnqueuedAt = time.Now()
	}
	s.pending = append(s.pending, work)
	// Stable sort keeps FIFO order among equal priorities.
	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].Priority > s.pending[j].Priority
	})

	slog.Info("Work enqueued",
		"work_id", work.ID,
		"session_id", work.SessionID,
		"type", work.Type,
		"priority", work.Priority,
		"queued", len(s.pending))

	s.dispatchLocked()
	return nil
}

// dispatchLocked admits pending items while executing slots remain.
// Items enter the executing set synchronously, before their goroutine
// starts, so occupancy is observable immediately after Enqueue returns.
func (s *Scheduler) dispatchLocked() {
	for len(s.pending) > 0 && len(s.executing) < s.cfg.MaxConcurrent {
		work := s.pending[0]
		s.pending = s.pending[1:]
		s.executing[work.ID] = work

		s.wg.Add(1)
		go s.run(work)
	}
}

// run executes one work item and then frees its slot, triggering another
// dispatch pass (fan-out up to the concurrency cap without a blocking
// loop).
func (s *Scheduler) run(work *domain.QueuedWork) {
	defer s.wg.Done()

	s.mu.Lock()
	exec := s.executors[work.Type]
	s.mu.Unlock()

	now := time.Now()
	inProgress := domain.StatusInProgress
	s.sessions.UpdateAsyncWork(work.SessionID, work.ID, session.WorkUpdate{
		Status:    &inProgress,
		StartedAt: &now,
	})
	s.emitter.EmitWorkStarted(work.SessionID, work.ID)

	tracker := s.registry.GetOrCreate(work.ID)
	result, err := s.invoke(exec, work, tracker)

	if err != nil {
		s.finishFailed(work, err)
	} else {
		s.finishCompleted(work, result)
	}

	s.registry.ScheduleRemoval(work.ID)

	s.mu.Lock()
	delete(s.executing, work.ID)
	s.dispatchLocked()
	s.mu.Unlock()
}

// invoke runs the executor under the watchdog. A timed-out executor's
// slot is reclaimed immediately; its late result is discarded.
func (s *Scheduler) invoke(exec Executor, work *domain.QueuedWork, tracker *progress.Tracker) (result any, err error) {
	ctx := s.baseCtx
	if s.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ExecTimeout)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("executor panicked: %v", r)}
			}
		}()
		res, execErr := exec(ctx, *work, tracker)
		done <- outcome{result: res, err: execErr}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		slog.Warn("Executor exceeded deadline, reclaiming slot",
			"work_id", work.ID,
			"timeout", s.cfg.ExecTimeout)
		return nil, fmt.Errorf("execution timed out after %s", s.cfg.ExecTimeout)
	}
}

func (s *Scheduler) finishCompleted(work *domain.QueuedWork, result any) {
	now := time.Now()
	completed := domain.StatusCompleted
	s.sessions.UpdateAsyncWork(work.SessionID, work.ID, session.WorkUpdate{
		Status:      &completed,
		CompletedAt: &now,
		Result:      result,
	})

	slog.Info("Work completed", "work_id", work.ID, "session_id", work.SessionID)
	s.notifier.NotifyCompletion(work.SessionID, work.ID, result)
	s.emitter.EmitWorkCompleted(work.SessionID, work.ID, result)
}

func (s *Scheduler) finishFailed(work *domain.QueuedWork, err error) {
	now := time.Now()
	failed := domain.StatusFailed
	errMsg := err.Error()
	s.sessions.UpdateAsyncWork(work.SessionID, work.ID, session.WorkUpdate{
		Status:      &failed,
		CompletedAt: &now,
		Error:       &errMsg,
	})

	slog.Warn("Work failed", "work_id", work.ID, "session_id", work.SessionID, "error", err)
	s.notifier.NotifyFailure(work.SessionID, work.ID, errMsg)
	s.emitter.EmitWorkFailed(work.SessionID, work.ID, errMsg)
}

// Cancel removes a still-queued item and marks it cancelled. An item
// already executing cannot be preempted; Cancel returns false and the
// executor keeps its slot until it returns or the watchdog fires.
func (s *Scheduler) Cancel(workID string) bool {
	s.mu.Lock()
	var cancelled *domain.QueuedWork
	for i, w := range s.pending {
		if w.ID == workID {
			cancelled = w
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if cancelled == nil {
		return false
	}

	status := domain.StatusCancelled
	s.sessions.UpdateAsyncWork(cancelled.SessionID, workID, session.WorkUpdate{
		Status: &status,
	})
	s.registry.Remove(workID)
	s.emitter.EmitWorkCancelled(cancelled.SessionID, workID)
	slog.Info("Queued work cancelled", "work_id", workID, "session_id", cancelled.SessionID)
	return true
}

// IsExecuting reports whether a work item currently holds a slot.
func (s *Scheduler) IsExecuting(workID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.executing[workID]
	return ok
}

// GetStatus returns current queue occupancy.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Queued:    len(s.pending),
		Executing: len(s.executing),
	}
}

// Stop rejects new work, cancels the context handed to executors and
// waits for in-flight items to settle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
