// Package progress tracks per-work-item progress and fans updates out to
// subscriber callbacks.
package progress

import (
	"log/slog"
	"sync"
	"time"
)

// Stage is where a work item is in its execution.
type Stage string

const (
	StageStarting    Stage = "starting"
	StageAnalyzing   Stage = "analyzing"
	StageResearching Stage = "researching"
	StageBuilding    Stage = "building"
	StageRefining    Stage = "refining"
	StageFinalizing  Stage = "finalizing"
	StageComplete    Stage = "complete"
)

// Update is one progress report.
type Update struct {
	WorkID     string `json:"work_id"`
	Stage      Stage  `json:"stage"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

// Subscriber receives progress updates. Subscribers run synchronously on
// the producer's goroutine; panics are caught and logged so a faulty
// subscriber never propagates back to the executor.
type Subscriber func(Update)

// Tracker holds the current progress of one work item.
type Tracker struct {
	workID string

	mu          sync.Mutex
	current     Update
	subscribers map[int64]Subscriber
	nextSubID   int64
}

func newTracker(workID string) *Tracker {
	return &Tracker{
		workID: workID,
		current: Update{
			WorkID: workID,
			Stage:  StageStarting,
		},
		subscribers: make(map[int64]Subscriber),
	}
}

// Update records a progress report, clamping percentage to [0,100], and
// invokes all current subscribers.
func (t *Tracker) Update(stage Stage, percentage int, message string) {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}

	t.mu.Lock()
	t.current = Update{
		WorkID:     t.workID,
		Stage:      stage,
		Percentage: percentage,
		Message:    message,
	}
	update := t.current
	subs := make([]Subscriber, 0, len(t.subscribers))
	for _, sub := range t.subscribers {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		t.notify(sub, update)
	}
}

// Complete marks the tracker finished at 100%.
func (t *Tracker) Complete(message string) {
	t.Update(StageComplete, 100, message)
}

// Current returns the latest recorded update.
func (t *Tracker) Current() Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Subscribe registers a callback for future updates and returns an
// unsubscribe function.
func (t *Tracker) Subscribe(sub Subscriber) func() {
	t.mu.Lock()
	t.nextSubID++
	id := t.nextSubID
	t.subscribers[id] = sub
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}
}

func (t *Tracker) notify(sub Subscriber, update Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("progress subscriber panicked", "work_id", t.workID, "panic", r)
		}
	}()
	sub(update)
}

// Registry keys trackers by work id. Trackers are created on first
// reference and destroyed a grace period after the work completes, so
// late subscribers can still observe the final state.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	timers   map[string]*time.Timer
	grace    time.Duration
}

// NewRegistry creates a tracker registry with the given removal grace
// period.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		trackers: make(map[string]*Tracker),
		timers:   make(map[string]*time.Timer),
		grace:    grace,
	}
}

// GetOrCreate returns the tracker for a work item, creating it if needed.
// Any pending scheduled removal is cancelled.
func (r *Registry) GetOrCreate(workID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.timers[workID]; ok {
		timer.Stop()
		delete(r.timers, workID)
	}

	if t, ok := r.trackers[workID]; ok {
		return t
	}
	t := newTracker(workID)
	r.trackers[workID] = t
	return t
}

// Get returns the tracker for a work item, or nil.
func (r *Registry) Get(workID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trackers[workID]
}

// Remove destroys a tracker immediately.
func (r *Registry) Remove(workID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.timers[workID]; ok {
		timer.Stop()
		delete(r.timers, workID)
	}
	delete(r.trackers, workID)
}

// ScheduleRemoval destroys the tracker after the grace period elapses.
func (r *Registry) ScheduleRemoval(workID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.timers[workID]; ok {
		timer.Stop()
	}
	r.timers[workID] = time.AfterFunc(r.grace, func() {
		r.Remove(workID)
	})
}

// Count reports the number of live trackers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}
