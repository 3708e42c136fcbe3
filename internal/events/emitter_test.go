package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndEmit(t *testing.T) {
	e := NewEmitter()

	var got []Event
	unsub := e.Subscribe("s1", func(ev Event) {
		got = append(got, ev)
	})
	defer unsub()

	e.EmitWorkStarted("s1", "w1")
	e.EmitWorkCompleted("s1", "w1", "result")

	require.Len(t, got, 2)
	assert.Equal(t, WorkStarted, got[0].Type)
	assert.Equal(t, WorkCompleted, got[1].Type)
	assert.Equal(t, "w1", got[0].WorkID)
	assert.Equal(t, "result", got[1].Payload["result"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestEmitIsSessionScoped(t *testing.T) {
	e := NewEmitter()

	var s1Events, s2Events int
	defer e.Subscribe("s1", func(Event) { s1Events++ })()
	defer e.Subscribe("s2", func(Event) { s2Events++ })()

	e.EmitWorkStarted("s1", "w1")
	e.EmitWorkFailed("s1", "w1", "boom")

	assert.Equal(t, 2, s1Events)
	assert.Equal(t, 0, s2Events)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := NewEmitter()

	count := 0
	unsub := e.Subscribe("s1", func(Event) { count++ })

	e.EmitWorkStarted("s1", "w1")
	unsub()
	e.EmitWorkStarted("s1", "w2")

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, e.SubscriberCount("s1"))
}

func TestPanickingSubscriberDoesNotBreakFanOut(t *testing.T) {
	e := NewEmitter()

	delivered := 0
	defer e.Subscribe("s1", func(Event) { panic("bad subscriber") })()
	defer e.Subscribe("s1", func(Event) { delivered++ })()

	e.EmitWorkStarted("s1", "w1")
	e.EmitWorkStarted("s1", "w2")

	assert.Equal(t, 2, delivered)
}

func TestEmitWithoutSubscribersIsHarmless(t *testing.T) {
	e := NewEmitter()
	e.EmitWorkCancelled("nobody", "w1")
}
