package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/headers"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

func openStore(t *testing.T) (*HeaderStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "headers.db")
	s, err := NewHeaderStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSaveAndLoad(t *testing.T) {
	s, path := openStore(t)

	pm := headers.NewProtocolMap()
	pm.Outgoing.Set(headers.RaiseSign, 412)
	pm.Outgoing.Set(headers.Dance, 93)
	pm.Incoming.Set(headers.PlayerKickHost, 2001)
	require.NoError(t, s.Save(pm))

	pm.Outgoing.Delete(headers.Dance)
	require.NoError(t, s.Save(pm))
	require.NoError(t, s.Close())

	reopened, err := NewHeaderStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded := headers.NewProtocolMap()
	n, err := reopened.Load(loaded)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]uint16{headers.RaiseSign: 412}, loaded.Outgoing.Snapshot())
	assert.Equal(t, map[string]uint16{headers.PlayerKickHost: 2001}, loaded.Incoming.Snapshot())
}

func TestPutUpserts(t *testing.T) {
	s, _ := openStore(t)

	require.NoError(t, s.Put(protocol.DestinationServer, headers.Walk, 10))
	require.NoError(t, s.Put(protocol.DestinationServer, headers.Walk, 11))
	require.NoError(t, s.Put(protocol.DestinationClient, headers.Walk, 12))

	pm := headers.NewProtocolMap()
	_, err := s.Load(pm)
	require.NoError(t, err)
	id, _ := pm.Outgoing.Get(headers.Walk)
	assert.Equal(t, uint16(11), id)
	id, _ = pm.Incoming.Get(headers.Walk)
	assert.Equal(t, uint16(12), id)

	require.NoError(t, s.Delete(protocol.DestinationServer, headers.Walk))
	pm = headers.NewProtocolMap()
	_, err = s.Load(pm)
	require.NoError(t, err)
	assert.Zero(t, pm.Outgoing.Len())
}

func TestSubscribePersistsEvents(t *testing.T) {
	s, _ := openStore(t)
	bus := events.NewEventBus()
	s.Subscribe(bus)

	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type: events.EventHeaderLearned,
		Payload: events.HeaderLearnedPayload{
			Destination: protocol.DestinationServer,
			Name:        headers.Gesture,
			Header:      55,
		},
	}))

	msg := protocol.NewMessageFromChunks(55, protocol.DestinationServer, protocol.Int(1))
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type: events.EventHostGesture,
		Payload: events.DetectedPayload{
			SessionID: "abc",
			Header:    55,
			Message:   msg,
			Action:    "wave",
		},
	}))

	pm := headers.NewProtocolMap()
	_, err := s.Load(pm)
	require.NoError(t, err)
	id, ok := pm.Outgoing.Get(headers.Gesture)
	require.True(t, ok)
	assert.Equal(t, uint16(55), id)

	detections, err := s.RecentDetections(10)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	d := detections[0]
	assert.Equal(t, "abc", d.SessionID)
	assert.Equal(t, string(events.EventHostGesture), d.Event)
	assert.Equal(t, uint16(55), d.Header)
	assert.Equal(t, msg.String(), d.Packet)
	assert.Equal(t, "wave", d.Action)
	assert.False(t, d.CreatedAt.IsZero())

	require.NoError(t, s.CleanOldDetections(1))
	detections, err = s.RecentDetections(10)
	require.NoError(t, err)
	assert.Len(t, detections, 1)
}
