package protocol

import "encoding/binary"

// DecypherInt reads a big-endian int32 at offset. The caller guarantees that
// four bytes are available.
func DecypherInt(data []byte, offset int) int32 {
	return int32(binary.BigEndian.Uint32(data[offset : offset+4]))
}

// DecypherShort reads a big-endian uint16 at offset. The caller guarantees that
// two bytes are available.
func DecypherShort(data []byte, offset int) uint16 {
	return binary.BigEndian.Uint16(data[offset : offset+2])
}

// CypherInt encodes v as four big-endian bytes.
func CypherInt(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

// CypherShort encodes v as two big-endian bytes.
func CypherShort(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
