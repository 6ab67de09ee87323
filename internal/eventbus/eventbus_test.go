package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBusFansOutToOtherSubscribersOnly(t *testing.T) {
	bus := NewLocalBus()
	a := bus.Subscribe("a")
	b := bus.Subscribe("b")

	bus.Publish(Event{Kind: NewTestcase, NodeID: "a"}, "a")

	_, ok := a.Poll()
	assert.False(t, ok, "publisher should not receive its own event")

	ev, ok := b.Poll()
	require.True(t, ok)
	assert.Equal(t, NewTestcase, ev.Kind)
}

func TestLocalBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewLocalBus()
	sub := bus.Subscribe("x")
	bus.Unsubscribe("x")
	bus.Publish(Event{Kind: Heartbeat}, "")

	_, ok := bus.Get("x")
	assert.False(t, ok)
	assert.Equal(t, int64(0), sub.Pending())
}

func TestSubscriberQueueOrdersFIFO(t *testing.T) {
	bus := NewLocalBus()
	sub := bus.Subscribe("y")
	bus.Publish(Event{Kind: Stats, Message: "first"}, "")
	bus.Publish(Event{Kind: Stats, Message: "second"}, "")

	first, ok := sub.Poll()
	require.True(t, ok)
	assert.Equal(t, "first", first.Message)

	second, ok := sub.Poll()
	require.True(t, ok)
	assert.Equal(t, "second", second.Message)
}
