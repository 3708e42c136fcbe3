package notify

import (
	"testing"

	"github.com/ashureev/sidework/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyAndClear(t *testing.T) {
	c := NewCenter(events.NewEmitter())

	c.NotifyCompletion("s1", "w1", map[string]string{"summary": "done"})
	c.NotifyFailure("s1", "w2", "backend unavailable")

	pending := c.PendingFor("s1")
	require.Len(t, pending, 2)
	assert.False(t, pending[0].Failure)
	assert.True(t, pending[1].Failure)
	assert.Contains(t, pending[1].Message, "backend unavailable")

	c.Clear("s1", pending[0].ID)
	pending = c.PendingFor("s1")
	require.Len(t, pending, 1)
	assert.Equal(t, "w2", pending[0].WorkID)

	c.ClearAll("s1")
	assert.Empty(t, c.PendingFor("s1"))
}

func TestNotificationsAreSessionScoped(t *testing.T) {
	c := NewCenter(events.NewEmitter())
	c.NotifyCompletion("s1", "w1", nil)
	assert.Empty(t, c.PendingFor("s2"))
}

func TestPendingForReturnsCopy(t *testing.T) {
	c := NewCenter(events.NewEmitter())
	c.NotifyCompletion("s1", "w1", nil)

	got := c.PendingFor("s1")
	got[0] = nil
	require.NotNil(t, c.PendingFor("s1")[0])
}

func TestNotificationsMirroredOnEmitter(t *testing.T) {
	emitter := events.NewEmitter()
	c := NewCenter(emitter)

	var received []events.Event
	defer emitter.Subscribe("s1", func(ev events.Event) { received = append(received, ev) })()

	c.NotifyCompletion("s1", "w1", nil)
	require.Len(t, received, 1)
	assert.Equal(t, events.NotificationReceived, received[0].Type)
	assert.Equal(t, "w1", received[0].WorkID)
}
