package protocol

import "crypto/rc4"

// maxKeyLength is the number of key bytes the key schedule ever touches.
const maxKeyLength = 256

// RC4 is a stateful keystream applied as XOR over byte spans. The keystream
// position carries over from call to call, so one instance must see the bytes
// of its direction exactly once and in order. Not safe for concurrent use.
type RC4 struct {
	cipher *rc4.Cipher
}

// NewRC4 runs the key schedule for key. Keys longer than 256 bytes are
// truncated; the schedule never reads past index 255.
func NewRC4(key []byte) (*RC4, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		key = key[:maxKeyLength]
	}

	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &RC4{cipher: c}, nil
}

// Parse transforms data in place.
func (r *RC4) Parse(data []byte) {
	r.cipher.XORKeyStream(data, data)
}

// SafeParse transforms a copy of data and leaves the input untouched.
func (r *RC4) SafeParse(data []byte) []byte {
	out := make([]byte, len(data))
	r.cipher.XORKeyStream(out, data)
	return out
}
