package mirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	bus.Publish(newStatusEvent("/a", "m/a", StatusPending, StatusSynced, nil))

	select {
	case ev := <-sub:
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, SyncEventStatus, ev.Type)
		assert.Equal(t, "/a", ev.Path)
		assert.Equal(t, StatusPending, ev.From)
		assert.Equal(t, StatusSynced, ev.To)
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		require.FailNow(t, "timeout waiting for event")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	bus.Publish(newRootEvent("/data", false))

	for _, sub := range []chan SyncEvent{a, b} {
		select {
		case ev := <-sub:
			assert.Equal(t, SyncEventRootDown, ev.Type)
			assert.Equal(t, "/data", ev.Path)
		case <-time.After(time.Second):
			require.FailNow(t, "timeout waiting for event")
		}
	}
}

func TestEventBusUnsubscribeCloses(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)

	// publishing after unsubscribe must not panic
	bus.Publish(newRootEvent("/data", true))
}

func TestEventBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	// never read from sub, fill past its buffer
	done := make(chan struct{})
	go func() {
		for i := 0; i < eventBufferSize*3; i++ {
			bus.Publish(newUntrackedEvent("/a", "m/a", StatusSynced))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "publish blocked on a slow subscriber")
	}
}
