package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

func msg(header uint16, chunks ...protocol.Chunk) *protocol.Message {
	return protocol.NewMessageFromChunks(header, protocol.DestinationServer, chunks...)
}

func TestFilterMutualExclusion(t *testing.T) {
	t.Parallel()

	t.Run("replace_clears_block", func(t *testing.T) {
		tbl := NewTable("test")
		tbl.Block(5)
		tbl.Replace(5, msg(6))
		assert.False(t, tbl.IsBlocked(5))
		assert.True(t, tbl.IsReplaced(5))
	})

	t.Run("block_clears_replace", func(t *testing.T) {
		tbl := NewTable("test")
		tbl.ReplaceWith(5, func(m *protocol.Message) *protocol.Message { return m })
		tbl.BlockIf(5, func(m *protocol.Message) bool { return true })
		assert.True(t, tbl.IsBlocked(5))
		assert.False(t, tbl.IsReplaced(5))
	})

	t.Run("unblock_keeps_other_headers", func(t *testing.T) {
		tbl := NewTable("test")
		tbl.Block(1)
		tbl.Block(2)
		tbl.Replace(3, msg(3))
		tbl.Unblock(1)
		assert.Equal(t, []uint16{2}, tbl.Blocked())
		assert.Equal(t, []uint16{3}, tbl.Replaced())
	})
}

func TestFilterProcess(t *testing.T) {
	t.Parallel()

	t.Run("static_block", func(t *testing.T) {
		tbl := NewTable("test")
		tbl.Block(77)
		in := msg(77, protocol.Int(1))
		blocked, out := tbl.Process(in)
		assert.True(t, blocked)
		assert.Same(t, in, out)

		blocked, _ = tbl.Process(msg(78))
		assert.False(t, blocked)
	})

	t.Run("predicate_block", func(t *testing.T) {
		tbl := NewTable("test")
		tbl.BlockIf(10, func(m *protocol.Message) bool {
			v, err := m.ReadIntAt(0)
			return err == nil && v == 4008
		})

		blocked, _ := tbl.Process(msg(10, protocol.Int(4008)))
		assert.True(t, blocked)
		blocked, _ = tbl.Process(msg(10, protocol.Int(1)))
		assert.False(t, blocked)
	})

	t.Run("static_replacement_is_copied", func(t *testing.T) {
		tbl := NewTable("test")
		replacement := msg(20, protocol.String("new"))
		tbl.Replace(20, replacement)
		replacement.SetHeader(99)

		blocked, out := tbl.Process(msg(20, protocol.String("old")))
		require.False(t, blocked)
		assert.Equal(t, protocol.Construct(20, protocol.String("new")), out.ToBytes())

		out.SetHeader(1)
		_, again := tbl.Process(msg(20))
		assert.Equal(t, uint16(20), again.Header())
	})

	t.Run("replacer_nil_forwards_original", func(t *testing.T) {
		tbl := NewTable("test")
		tbl.ReplaceWith(30, func(m *protocol.Message) *protocol.Message { return nil })
		in := msg(30)
		_, out := tbl.Process(in)
		assert.Same(t, in, out)
	})

	t.Run("panics_forward_original", func(t *testing.T) {
		tbl := NewTable("test")
		tbl.BlockIf(40, func(m *protocol.Message) bool { panic("bad predicate") })
		tbl.ReplaceWith(41, func(m *protocol.Message) *protocol.Message { panic("bad replacer") })

		in := msg(40)
		blocked, out := tbl.Process(in)
		assert.False(t, blocked)
		assert.Same(t, in, out)

		in = msg(41)
		blocked, out = tbl.Process(in)
		assert.False(t, blocked)
		assert.Same(t, in, out)
	})

	t.Run("corrupted_passes_through", func(t *testing.T) {
		tbl := NewTable("test")
		tbl.Block(0)
		in := protocol.NewMessage([]byte{0, 0, 0, 9, 0, 0}, protocol.DestinationServer)
		require.True(t, in.IsCorrupted())
		blocked, out := tbl.Process(in)
		assert.False(t, blocked)
		assert.Same(t, in, out)
	})
}

func TestFiltersByDestination(t *testing.T) {
	t.Parallel()

	f := New()
	f.Incoming.Block(5)

	blocked, _ := f.Process(protocol.NewMessageFromChunks(5, protocol.DestinationClient))
	assert.True(t, blocked)
	blocked, _ = f.Process(protocol.NewMessageFromChunks(5, protocol.DestinationServer))
	assert.False(t, blocked)
}
