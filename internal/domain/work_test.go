package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusChainIsMonotonic(t *testing.T) {
	chain := []WorkStatus{
		StatusPendingOffer,
		StatusOffered,
		StatusAccepted,
		StatusInProgress,
		StatusCompleted,
	}

	for i, from := range chain[:len(chain)-1] {
		next := chain[i+1]
		assert.True(t, from.CanTransitionTo(next), "%s -> %s", from, next)

		// No skipping ahead and no moving backwards.
		for j, other := range chain {
			if j == i+1 {
				continue
			}
			if other == from {
				continue
			}
			assert.False(t, from.CanTransitionTo(other), "%s -> %s should be rejected", from, other)
		}
	}
}

func TestStatusFailureOnlyFromInProgress(t *testing.T) {
	assert.True(t, StatusInProgress.CanTransitionTo(StatusFailed))
	assert.False(t, StatusPendingOffer.CanTransitionTo(StatusFailed))
	assert.False(t, StatusOffered.CanTransitionTo(StatusFailed))
	assert.False(t, StatusAccepted.CanTransitionTo(StatusFailed))
}

func TestStatusCancellation(t *testing.T) {
	for _, from := range []WorkStatus{StatusPendingOffer, StatusOffered, StatusAccepted, StatusInProgress} {
		assert.True(t, from.CanTransitionTo(StatusCancelled), "from %s", from)
	}
	for _, from := range []WorkStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.False(t, from.CanTransitionTo(StatusCancelled), "from %s", from)
	}
}

func TestTerminalStatesAreDeadEnds(t *testing.T) {
	all := []WorkStatus{
		StatusPendingOffer, StatusOffered, StatusAccepted,
		StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled,
	}
	for _, terminal := range []WorkStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range all {
			assert.False(t, terminal.CanTransitionTo(to), "%s -> %s", terminal, to)
		}
	}
}

func TestIsActive(t *testing.T) {
	active := map[WorkStatus]bool{
		StatusPendingOffer: false,
		StatusOffered:      false,
		StatusAccepted:     true,
		StatusInProgress:   true,
		StatusCompleted:    false,
		StatusFailed:       false,
		StatusCancelled:    false,
	}
	for status, want := range active {
		item := &AsyncWorkItem{ID: "w", Status: status}
		assert.Equal(t, want, item.IsActive(), "status %s", status)
	}
}
