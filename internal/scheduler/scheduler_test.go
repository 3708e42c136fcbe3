package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/sidework/internal/domain"
	"github.com/ashureev/sidework/internal/events"
	"github.com/ashureev/sidework/internal/notify"
	"github.com/ashureev/sidework/internal/progress"
	"github.com/ashureev/sidework/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerEnv struct {
	sessions *session.Store
	emitter  *events.Emitter
	notifier *notify.Center
	sched    *Scheduler
}

func newEnv(t *testing.T, cfg Config) *schedulerEnv {
	t.Helper()
	sessions := session.NewStore(nil)
	emitter := events.NewEmitter()
	env := &schedulerEnv{
		sessions: sessions,
		emitter:  emitter,
		notifier: notify.NewCenter(emitter),
	}
	env.sched = New(cfg, sessions, emitter, env.notifier, progress.NewRegistry(time.Minute))
	t.Cleanup(env.sched.Stop)
	return env
}

// addAccepted seeds an accepted work item so the scheduler's transition
// into in_progress is legal, and returns the matching queue entry.
func (env *schedulerEnv) addAccepted(sessionID, workID string, priority int) *domain.QueuedWork {
	env.sessions.AddAsyncWork(sessionID, &domain.AsyncWorkItem{
		ID:        workID,
		SessionID: sessionID,
		Type:      domain.WorkTypeResearch,
		Request:   "request " + workID,
		Status:    domain.StatusAccepted,
		CreatedAt: time.Now(),
	})
	return &domain.QueuedWork{
		ID:        workID,
		SessionID: sessionID,
		Request:   "request " + workID,
		Type:      domain.WorkTypeResearch,
		Priority:  priority,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestConcurrencyCap(t *testing.T) {
	env := newEnv(t, Config{MaxConcurrent: 3})

	gate := make(chan struct{})
	env.sched.RegisterExecutor(domain.WorkTypeResearch, func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		select {
		case <-gate:
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	for _, id := range []string{"w1", "w2", "w3", "w4", "w5"} {
		require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", id, 0)))
	}

	// Admission happens synchronously under the enqueue lock, so the cap
	// is observable immediately.
	status := env.sched.GetStatus()
	assert.Equal(t, 3, status.Executing)
	assert.Equal(t, 2, status.Queued)

	close(gate)
	waitFor(t, func() bool {
		s := env.sched.GetStatus()
		return s.Executing == 0 && s.Queued == 0
	}, "queue never drained")

	for _, id := range []string{"w1", "w2", "w3", "w4", "w5"} {
		item := env.sessions.WorkItem("s1", id)
		require.NotNil(t, item)
		assert.Equal(t, domain.StatusCompleted, item.Status, "work %s", id)
		assert.NotNil(t, item.StartedAt)
		assert.NotNil(t, item.CompletedAt)
	}
}

func TestPriorityOrderWithFIFOTies(t *testing.T) {
	env := newEnv(t, Config{MaxConcurrent: 1})

	var mu sync.Mutex
	var order []string
	gate := make(chan struct{})

	env.sched.RegisterExecutor(domain.WorkTypeResearch, func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		mu.Lock()
		order = append(order, work.ID)
		first := len(order) == 1
		mu.Unlock()
		if first {
			// Hold the only slot until the queue is fully built.
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, nil
	})

	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "blocker", 100)))
	waitFor(t, func() bool { return env.sched.IsExecuting("blocker") }, "blocker never started")

	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "low", 10)))
	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "high", 50)))
	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "mid", 50)))
	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "other", 30)))

	close(gate)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, "not all work executed")

	mu.Lock()
	defer mu.Unlock()
	// Descending priority; "high" enqueued before "mid" at equal priority.
	assert.Equal(t, []string{"blocker", "high", "mid", "other", "low"}, order)
}

func TestCancelQueuedOnly(t *testing.T) {
	env := newEnv(t, Config{MaxConcurrent: 1})

	var cancelledEvents int
	var evMu sync.Mutex
	defer env.emitter.Subscribe("s1", func(ev events.Event) {
		if ev.Type == events.WorkCancelled {
			evMu.Lock()
			cancelledEvents++
			evMu.Unlock()
		}
	})()

	gate := make(chan struct{})
	defer close(gate)
	env.sched.RegisterExecutor(domain.WorkTypeResearch, func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		select {
		case <-gate:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "running", 0)))
	waitFor(t, func() bool { return env.sched.IsExecuting("running") }, "work never started")
	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "queued", 0)))

	// Executing work cannot be preempted.
	assert.False(t, env.sched.Cancel("running"))
	assert.True(t, env.sched.IsExecuting("running"))

	// Queued work can.
	assert.True(t, env.sched.Cancel("queued"))
	assert.Equal(t, 0, env.sched.GetStatus().Queued)
	assert.Equal(t, domain.StatusCancelled, env.sessions.WorkItem("s1", "queued").Status)

	// Unknown ids report false.
	assert.False(t, env.sched.Cancel("nope"))

	evMu.Lock()
	defer evMu.Unlock()
	assert.Equal(t, 1, cancelledEvents)
}

func TestLifecycleEvents(t *testing.T) {
	env := newEnv(t, Config{MaxConcurrent: 1})

	var mu sync.Mutex
	counts := map[events.EventType]int{}
	defer env.emitter.Subscribe("s1", func(ev events.Event) {
		mu.Lock()
		counts[ev.Type]++
		mu.Unlock()
	})()

	env.sched.RegisterExecutor(domain.WorkTypeResearch, func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		return "result", nil
	})

	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "w1", 0)))
	waitFor(t, func() bool {
		item := env.sessions.WorkItem("s1", "w1")
		return item != nil && item.Status == domain.StatusCompleted
	}, "work never completed")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts[events.WorkCompleted] == 1
	}, "completion event never arrived")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts[events.WorkStarted])
	assert.Equal(t, 1, counts[events.WorkCompleted])
	assert.Equal(t, 0, counts[events.WorkFailed])

	// Completion also leaves a pending notification for the next turn.
	notifications := env.notifier.PendingFor("s1")
	require.Len(t, notifications, 1)
	assert.False(t, notifications[0].Failure)
	assert.Equal(t, "w1", notifications[0].WorkID)
}

func TestExecutorFailure(t *testing.T) {
	env := newEnv(t, Config{MaxConcurrent: 1})

	env.sched.RegisterExecutor(domain.WorkTypeResearch, func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		return nil, errors.New("backend unavailable")
	})

	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "w1", 0)))
	waitFor(t, func() bool {
		item := env.sessions.WorkItem("s1", "w1")
		return item != nil && item.Status == domain.StatusFailed
	}, "work never failed")

	item := env.sessions.WorkItem("s1", "w1")
	assert.Equal(t, "backend unavailable", item.Error)

	notifications := env.notifier.PendingFor("s1")
	require.Len(t, notifications, 1)
	assert.True(t, notifications[0].Failure)
}

func TestExecutorPanicIsContained(t *testing.T) {
	env := newEnv(t, Config{MaxConcurrent: 1})

	env.sched.RegisterExecutor(domain.WorkTypeResearch, func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		panic("executor bug")
	})

	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "w1", 0)))
	waitFor(t, func() bool {
		item := env.sessions.WorkItem("s1", "w1")
		return item != nil && item.Status == domain.StatusFailed
	}, "panicked work never failed")

	assert.Contains(t, env.sessions.WorkItem("s1", "w1").Error, "executor panicked")
	assert.Equal(t, 0, env.sched.GetStatus().Executing)
}

func TestWatchdogReclaimsSlot(t *testing.T) {
	env := newEnv(t, Config{MaxConcurrent: 1, ExecTimeout: 30 * time.Millisecond})

	env.sched.RegisterExecutor(domain.WorkTypeResearch, func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.NoError(t, env.sched.Enqueue(env.addAccepted("s1", "stuck", 0)))
	waitFor(t, func() bool {
		item := env.sessions.WorkItem("s1", "stuck")
		return item != nil && item.Status == domain.StatusFailed
	}, "watchdog never fired")

	assert.Contains(t, env.sessions.WorkItem("s1", "stuck").Error, "timed out")
	assert.Equal(t, 0, env.sched.GetStatus().Executing)
}

func TestEnqueueValidation(t *testing.T) {
	env := newEnv(t, Config{MaxConcurrent: 1})

	// No executor registered for the type.
	err := env.sched.Enqueue(env.addAccepted("s1", "w1", 0))
	assert.Error(t, err)

	env.sched.RegisterExecutor(domain.WorkTypeResearch, func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		return nil, nil
	})

	env.sched.Stop()
	err = env.sched.Enqueue(env.addAccepted("s1", "w2", 0))
	assert.Error(t, err)
}
