package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	t.Parallel()

	t.Run("decodes_header_and_body", func(t *testing.T) {
		frame := Construct(4000, String("build-1"))
		msg := NewMessage(frame, DestinationServer)
		require.False(t, msg.IsCorrupted())
		assert.Equal(t, uint16(4000), msg.Header())
		assert.Equal(t, len(frame)-4, msg.Length())
		assert.Equal(t, frame, msg.ToBytes())
		assert.False(t, msg.IsIncremental())
	})

	t.Run("length_mismatch_is_corrupted", func(t *testing.T) {
		frame := Construct(7, Int(1))
		frame[3]++
		msg := NewMessage(frame, DestinationClient)
		assert.True(t, msg.IsCorrupted())
		assert.Equal(t, frame, msg.ToBytes())

		msg.SetHeader(99)
		assert.Equal(t, frame, msg.ToBytes())
		assert.ErrorIs(t, msg.Write(Int(1)), ErrCorrupted)
		_, err := msg.ReadInt()
		assert.ErrorIs(t, err, ErrCorrupted)
		assert.False(t, msg.CanReadAt(ChunkInt, 0))
	})

	t.Run("short_buffer_is_corrupted", func(t *testing.T) {
		msg := NewMessage([]byte{0, 0, 0, 1, 5}, DestinationClient)
		assert.True(t, msg.IsCorrupted())
		assert.Equal(t, []byte{0, 0, 0, 1, 5}, msg.ToBytes())
	})

	t.Run("input_is_copied", func(t *testing.T) {
		frame := Construct(1, Int(5))
		msg := NewMessage(frame, DestinationServer)
		frame[9] = 0
		v, err := msg.ReadIntAt(0)
		require.NoError(t, err)
		assert.Equal(t, int32(5), v)
	})
}

func TestMessageReads(t *testing.T) {
	t.Parallel()

	newMsg := func() *Message {
		return NewMessageFromChunks(1, DestinationServer,
			Short(513), Int(-1), Bool(true), String("Navigation"), Raw([]byte{9, 8}))
	}

	t.Run("cursor_reads_advance", func(t *testing.T) {
		msg := newMsg()
		s, err := msg.ReadShort()
		require.NoError(t, err)
		assert.Equal(t, uint16(513), s)

		i, err := msg.ReadInt()
		require.NoError(t, err)
		assert.Equal(t, int32(-1), i)

		b, err := msg.ReadBool()
		require.NoError(t, err)
		assert.True(t, b)

		str, err := msg.ReadString()
		require.NoError(t, err)
		assert.Equal(t, "Navigation", str)

		raw, err := msg.ReadBytes(2)
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 8}, raw)

		assert.Equal(t, len(msg.Body()), msg.Position())
		assert.Len(t, msg.ChunksRead(), 5)

		_, err = msg.ReadBool()
		assert.ErrorIs(t, err, ErrInsufficientData)
		assert.Len(t, msg.ChunksRead(), 5)
	})

	t.Run("offset_reads_leave_cursor", func(t *testing.T) {
		msg := newMsg()
		str, err := msg.ReadStringAt(7)
		require.NoError(t, err)
		assert.Equal(t, "Navigation", str)
		assert.Zero(t, msg.Position())
	})

	t.Run("can_read_is_pure", func(t *testing.T) {
		msg := newMsg()
		assert.True(t, msg.CanReadAt(ChunkString, 7))
		assert.False(t, msg.CanReadAt(ChunkString, 8))
		assert.True(t, msg.CanRead(ChunkInt))
		assert.False(t, msg.CanReadAt(ChunkInt, len(msg.Body())-3))
		assert.False(t, msg.CanReadAt(ChunkShort, -1))
		assert.Empty(t, msg.ChunksRead())
		assert.Zero(t, msg.Position())
	})

	t.Run("string_longer_than_body", func(t *testing.T) {
		msg := NewMessageFromChunks(1, DestinationClient, Short(10), Raw([]byte("abc")))
		_, err := msg.ReadStringAt(0)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("empty_string_at_end", func(t *testing.T) {
		msg := NewMessageFromChunks(1, DestinationClient, String(""))
		str, err := msg.ReadString()
		require.NoError(t, err)
		assert.Equal(t, "", str)
		assert.Equal(t, 2, msg.Position())
	})

	t.Run("non_utf8_string_round_trips", func(t *testing.T) {
		in := string([]byte{0xff, 0xfe, 'a'})
		msg := NewMessageFromChunks(1, DestinationClient, String(in))
		out, err := msg.ReadStringAt(0)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}

func TestMessageEdits(t *testing.T) {
	t.Parallel()

	t.Run("write_appends", func(t *testing.T) {
		msg := NewMessage(Construct(3), DestinationServer)
		require.NoError(t, msg.Write(Int(7), String("a")))
		assert.Equal(t, Construct(3, Int(7), String("a")), msg.ToBytes())
		assert.Len(t, msg.ChunksWritten(), 2)
	})

	t.Run("rank_edits_need_incremental", func(t *testing.T) {
		msg := NewMessage(Construct(3, Int(7)), DestinationServer)
		assert.ErrorIs(t, msg.RemoveChunk(0), ErrNotConstructible)
		assert.ErrorIs(t, msg.ReplaceChunk(0, Int(1)), ErrNotConstructible)
		assert.ErrorIs(t, msg.InsertChunk(0, Int(1)), ErrNotConstructible)
		assert.ErrorIs(t, msg.PushChunk(0, 1), ErrNotConstructible)
		assert.ErrorIs(t, msg.PullChunk(0, 1), ErrNotConstructible)
	})

	t.Run("rank_out_of_range", func(t *testing.T) {
		msg := NewMessageFromChunks(3, DestinationServer, Int(1))
		assert.ErrorIs(t, msg.RemoveChunk(1), ErrChunkOutOfRange)
		assert.ErrorIs(t, msg.ReplaceChunk(-1, Int(2)), ErrChunkOutOfRange)
	})

	t.Run("remove_replace_insert", func(t *testing.T) {
		msg := NewMessageFromChunks(3, DestinationServer, Int(1), String("b"), Bool(true))

		require.NoError(t, msg.RemoveChunk(1))
		assert.Equal(t, Construct(3, Int(1), Bool(true)), msg.ToBytes())

		require.NoError(t, msg.ReplaceChunk(0, Short(9)))
		assert.Equal(t, Construct(3, Short(9), Bool(true)), msg.ToBytes())

		require.NoError(t, msg.InsertChunk(1, String("x")))
		assert.Equal(t, Construct(3, Short(9), String("x"), Bool(true)), msg.ToBytes())
	})

	t.Run("push_and_pull_clamp", func(t *testing.T) {
		msg := NewMessageFromChunks(3, DestinationServer, Int(1), Int(2), Int(3))

		require.NoError(t, msg.PushChunk(0, 10))
		assert.Equal(t, Construct(3, Int(2), Int(3), Int(1)), msg.ToBytes())

		require.NoError(t, msg.PullChunk(2, 0))
		assert.Equal(t, Construct(3, Int(2), Int(1), Int(3)), msg.ToBytes())

		require.NoError(t, msg.PullChunk(1, 5))
		assert.Equal(t, Construct(3, Int(1), Int(2), Int(3)), msg.ToBytes())
	})

	t.Run("caches_invalidated", func(t *testing.T) {
		msg := NewMessageFromChunks(3, DestinationServer, Int(1))
		before := msg.String()
		msg.SetHeader(4)
		assert.NotEqual(t, before, msg.String())
		assert.Equal(t, Construct(4, Int(1)), msg.ToBytes())
	})
}

func TestMessageClone(t *testing.T) {
	t.Parallel()

	msg := NewMessageFromChunks(3, DestinationServer, Int(1))
	c := msg.Clone()
	require.NoError(t, c.Write(Int(2)))
	c.SetHeader(9)
	assert.Equal(t, Construct(3, Int(1)), msg.ToBytes())
	assert.Equal(t, Construct(9, Int(1), Int(2)), c.ToBytes())
}

func TestInsertChunkAppendsAtEnd(t *testing.T) {
	t.Parallel()

	msg := NewMessageFromChunks(3, DestinationServer, Int(1))
	require.NoError(t, msg.InsertChunk(1, Bool(true)))
	assert.Equal(t, Construct(3, Int(1), Bool(true)), msg.ToBytes())
	assert.ErrorIs(t, msg.InsertChunk(3, Bool(true)), ErrChunkOutOfRange)
}

func TestOversizedStringRejected(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", MaxStringLength+1)
	m := NewMessageFromChunks(7, DestinationServer, Int(1))
	before := m.ToBytes()

	assert.ErrorIs(t, m.Write(String(long)), ErrStringTooLong)
	assert.ErrorIs(t, m.ReplaceChunk(0, String(long)), ErrStringTooLong)
	assert.ErrorIs(t, m.InsertChunk(1, String(long)), ErrStringTooLong)
	assert.Equal(t, before, m.ToBytes())
	assert.Len(t, m.ChunksWritten(), 1)

	_, err := ParseText("{l}{u:7}{s:" + long + "}")
	assert.ErrorIs(t, err, ErrStringTooLong)

	t.Run("max_length_round_trips", func(t *testing.T) {
		exact := strings.Repeat("y", MaxStringLength)
		require.NoError(t, m.Write(String(exact)))
		s, err := m.ReadStringAt(4)
		require.NoError(t, err)
		assert.Equal(t, exact, s)
	})
}
