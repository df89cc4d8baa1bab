package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	a := Construct(10, Int(1))
	b := Construct(11, String("xy"))

	t.Run("no_split_returns_input", func(t *testing.T) {
		var cache []byte
		data := []byte{0xde, 0xad}
		frames := Split(&cache, data, false)
		require.Len(t, frames, 1)
		assert.Equal(t, data, frames[0])
		assert.Empty(t, cache)
	})

	t.Run("single_frame", func(t *testing.T) {
		var cache []byte
		frames := Split(&cache, a, true)
		require.Len(t, frames, 1)
		assert.Equal(t, a, frames[0])
	})

	t.Run("concatenated_frames", func(t *testing.T) {
		var cache []byte
		frames := Split(&cache, append(append([]byte{}, a...), b...), true)
		require.Len(t, frames, 2)
		assert.Equal(t, a, frames[0])
		assert.Equal(t, b, frames[1])
		assert.Empty(t, cache)
	})

	t.Run("partial_frame_completed_later", func(t *testing.T) {
		s := NewFrameSplitter()
		stream := append(append([]byte{}, a...), b...)
		cut := len(a) + 3

		first := s.Feed(stream[:cut], true)
		require.Len(t, first, 1)
		assert.Equal(t, a, first[0])
		assert.Equal(t, 3, s.Pending())

		second := s.Feed(stream[cut:], true)
		require.Len(t, second, 1)
		assert.Equal(t, b, second[0])
		assert.Zero(t, s.Pending())
	})

	t.Run("byte_at_a_time", func(t *testing.T) {
		s := NewFrameSplitter()
		var got [][]byte
		for _, c := range b {
			got = append(got, s.Feed([]byte{c}, true)...)
		}
		require.Len(t, got, 1)
		assert.Equal(t, b, got[0])
	})

	t.Run("negative_length_emitted_whole", func(t *testing.T) {
		var cache []byte
		data := []byte{0xff, 0xff, 0xff, 0xff, 1, 2}
		frames := Split(&cache, data, true)
		require.Len(t, frames, 1)
		assert.Equal(t, data, frames[0])
		assert.True(t, NewMessage(frames[0], DestinationServer).IsCorrupted())
	})

	t.Run("reset_drops_cache", func(t *testing.T) {
		s := NewFrameSplitter()
		s.Feed(a[:5], true)
		assert.Equal(t, 5, s.Pending())
		s.Reset()
		assert.Zero(t, s.Pending())
	})
}
