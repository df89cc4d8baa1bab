package protocol

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRC4KnownVectors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key, plain, cipher string
	}{
		{"Key", "Plaintext", "bbf316e8d940af0ad3"},
		{"Wiki", "pedia", "1021bf0420"},
		{"Secret", "Attack at dawn", "45a01f645fc35b383552544b9bf5"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			r, err := NewRC4([]byte(tc.key))
			require.NoError(t, err)
			assert.Equal(t, tc.cipher, hex.EncodeToString(r.SafeParse([]byte(tc.plain))))
		})
	}
}

func TestRC4(t *testing.T) {
	t.Parallel()

	t.Run("empty_key", func(t *testing.T) {
		_, err := NewRC4(nil)
		assert.ErrorIs(t, err, ErrEmptyKey)
	})

	t.Run("round_trip", func(t *testing.T) {
		enc, err := NewRC4([]byte("session-key"))
		require.NoError(t, err)
		dec, err := NewRC4([]byte("session-key"))
		require.NoError(t, err)

		plain := []byte("hello relay")
		data := bytes.Clone(plain)
		enc.Parse(data)
		assert.NotEqual(t, plain, data)
		dec.Parse(data)
		assert.Equal(t, plain, data)
	})

	t.Run("safe_parse_leaves_input", func(t *testing.T) {
		r, err := NewRC4([]byte("k"))
		require.NoError(t, err)
		in := []byte{1, 2, 3}
		out := r.SafeParse(in)
		assert.Equal(t, []byte{1, 2, 3}, in)
		assert.NotEqual(t, in, out)
	})

	t.Run("keystream_continues_across_calls", func(t *testing.T) {
		whole, err := NewRC4([]byte("abc"))
		require.NoError(t, err)
		parts, err := NewRC4([]byte("abc"))
		require.NoError(t, err)

		data := []byte("0123456789")
		expected := whole.SafeParse(data)
		got := append(parts.SafeParse(data[:4]), parts.SafeParse(data[4:])...)
		assert.Equal(t, expected, got)
	})

	t.Run("long_key_truncated", func(t *testing.T) {
		key := bytes.Repeat([]byte{7, 9}, 200)
		long, err := NewRC4(key)
		require.NoError(t, err)
		short, err := NewRC4(key[:256])
		require.NoError(t, err)
		assert.Equal(t, short.SafeParse(make([]byte, 32)), long.SafeParse(make([]byte, 32)))
	})
}
