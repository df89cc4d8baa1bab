package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitSyncRunsInOrder(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	var order []string
	bus.Subscribe(EventHostDance, "first", func(ctx context.Context, e Event) error {
		order = append(order, "first")
		return nil
	})
	bus.Subscribe(EventHostDance, "panics", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(EventHostDance, "fails", func(ctx context.Context, e Event) error {
		order = append(order, "fails")
		return errors.New("nope")
	})
	bus.Subscribe(EventHostDance, "last", func(ctx context.Context, e Event) error {
		order = append(order, "last")
		return nil
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventHostDance})
	assert.EqualError(t, err, "nope")
	assert.Equal(t, []string{"first", "fails", "last"}, order)
}

func TestEmitAsync(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventConnected, "counter", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventConnected})
	bus.Emit(context.Background(), Event{Type: EventDisconnected})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventConnected})
	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventConnected}))
	assert.Equal(t, int32(1), calls.Load())
	bus.Stop()
}

func TestUnsubscribeAndClear(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	noop := func(ctx context.Context, e Event) error { return nil }
	bus.Subscribe(EventHostGesture, "a", noop)
	bus.Subscribe(EventHostGesture, "b", noop)
	bus.Subscribe(EventPlayerKickHost, "c", noop)

	bus.Unsubscribe(EventHostGesture, "a")
	assert.Equal(t, 1, bus.HandlerCount(EventHostGesture))

	bus.Clear()
	assert.Zero(t, bus.HandlerCount(EventHostGesture))
	assert.Zero(t, bus.HandlerCount(EventPlayerKickHost))
}

func TestIsDetection(t *testing.T) {
	t.Parallel()

	assert.True(t, EventHostRoomExit.IsDetection())
	assert.True(t, EventPlayerKickHost.IsDetection())
	assert.False(t, EventConnected.IsDetection())
}
