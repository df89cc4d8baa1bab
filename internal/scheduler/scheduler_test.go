package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingSender) Send(msg *protocol.Message) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := msg.ToBytes()
	r.sent = append(r.sent, data)
	return len(data), nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func packet() *protocol.Message {
	return protocol.NewMessageFromChunks(300, protocol.DestinationServer, protocol.String("ping"))
}

func TestAddValidation(t *testing.T) {
	t.Parallel()

	s := NewScheduler(&recordingSender{}, events.NewEventBus())

	_, err := s.Add(nil, time.Second, 1)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = s.Add(protocol.NewMessage([]byte{1, 2}, protocol.DestinationServer), time.Second, 1)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = s.Add(protocol.NewMessageFromChunks(1, protocol.DestinationUnknown), time.Second, 1)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = s.Add(packet(), 0, 1)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = s.Add(packet(), time.Second, 0)
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	id, err := s.Add(packet(), time.Second, 2)
	require.NoError(t, err)
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, protocol.DestinationServer, list[0].Destination)
	assert.Equal(t, packet().String(), list[0].Packet)
	assert.False(t, list[0].Running)
}

func TestBurstEvents(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	bus := events.NewEventBus()
	s := NewScheduler(sender, bus)

	var (
		mu       sync.Mutex
		payloads []events.ScheduleTriggeredPayload
	)
	bus.Subscribe(events.EventScheduleTriggered, "test", func(ctx context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		payloads = append(payloads, e.Payload.(events.ScheduleTriggeredPayload))
		return nil
	})

	id, err := s.Add(packet(), 10*time.Millisecond, 3)
	require.NoError(t, err)
	require.NoError(t, s.Start(id))
	require.Eventually(t, func() bool { return sender.count() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(id))
	assert.False(t, s.IsRunning(id))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(payloads), 3)
	first := payloads[:3]
	for i, p := range first {
		assert.Equal(t, id, p.ScheduleID)
		assert.Equal(t, i+1, p.BurstCount)
		assert.Equal(t, 2-i, p.BurstLeft)
		assert.Equal(t, i == 2, p.IsFinalBurst)
		assert.Equal(t, protocol.DestinationServer, p.Destination)
	}
	assert.Equal(t, packet().ToBytes(), sender.sent[0])
}

func TestHandlerStopsSchedule(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	bus := events.NewEventBus()
	s := NewScheduler(sender, bus)
	bus.Subscribe(events.EventScheduleTriggered, "stopper", func(ctx context.Context, e events.Event) error {
		if e.Payload.(events.ScheduleTriggeredPayload).BurstCount == 2 {
			return ErrStopSchedule
		}
		return nil
	})

	id, err := s.Add(packet(), 5*time.Millisecond, 5)
	require.NoError(t, err)
	require.NoError(t, s.Start(id))

	require.Eventually(t, func() bool { return !s.IsRunning(id) }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, sender.count())
}

func TestToggleAndRemove(t *testing.T) {
	t.Parallel()

	s := NewScheduler(&recordingSender{}, events.NewEventBus())
	id, err := s.Add(packet(), time.Hour, 1)
	require.NoError(t, err)

	running, err := s.Toggle(id)
	require.NoError(t, err)
	assert.True(t, running)
	assert.True(t, s.IsRunning(id))

	running, err = s.Toggle(id)
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, s.Start(id))
	require.NoError(t, s.Remove(id))
	assert.Empty(t, s.List())

	assert.True(t, errors.Is(s.Start(id), ErrNotFound))
	assert.ErrorIs(t, s.Stop(id), ErrNotFound)
	_, err = s.Toggle(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStopAll(t *testing.T) {
	t.Parallel()

	s := NewScheduler(&recordingSender{}, events.NewEventBus())
	a, _ := s.Add(packet(), time.Hour, 1)
	b, _ := s.Add(packet(), time.Hour, 1)
	require.NoError(t, s.Start(a))
	require.NoError(t, s.Start(b))

	s.StopAll()
	for _, info := range s.List() {
		assert.False(t, info.Running, info.ID)
	}
	assert.Equal(t, []string{a, b}, []string{s.List()[0].ID, s.List()[1].ID})
}
