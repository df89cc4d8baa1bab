package headers

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

func TestTable(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	_, ok := tbl.Get(RoomExit)
	assert.False(t, ok)

	tbl.Set(RoomExit, 12)
	tbl.Set(Dance, 12)
	id, ok := tbl.Get(RoomExit)
	require.True(t, ok)
	assert.Equal(t, uint16(12), id)

	name, ok := tbl.Name(12)
	require.True(t, ok)
	assert.Equal(t, Dance, name)

	snap := tbl.Snapshot()
	snap[Walk] = 1
	assert.Equal(t, 2, tbl.Len())

	tbl.Delete(Dance)
	tbl.Load(map[string]uint16{Walk: 3})
	assert.Equal(t, map[string]uint16{RoomExit: 12, Walk: 3}, tbl.Snapshot())

	tbl.Clear()
	assert.Zero(t, tbl.Len())
}

func TestTableConcurrentAccess(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tbl.Set(OutgoingNames[j%len(OutgoingNames)], uint16(i))
				tbl.Get(Say)
				tbl.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, len(OutgoingNames), tbl.Len())
}

func TestProtocolMap(t *testing.T) {
	t.Parallel()

	pm := NewProtocolMap()
	assert.Same(t, pm.Incoming, pm.Table(protocol.DestinationClient))
	assert.Same(t, pm.Outgoing, pm.Table(protocol.DestinationServer))

	pm.Outgoing.Set(RoomExit, 400)
	pm.Incoming.Set(PlayerKickHost, 41)

	data, err := json.Marshal(pm)
	require.NoError(t, err)
	assert.JSONEq(t, `{"incoming":{"PlayerKickHost":41},"outgoing":{"RoomExit":400}}`, string(data))

	var loaded ProtocolMap
	require.NoError(t, json.Unmarshal(data, &loaded))
	id, ok := loaded.Outgoing.Get(RoomExit)
	require.True(t, ok)
	assert.Equal(t, uint16(400), id)
}
