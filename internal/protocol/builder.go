package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ChunkKind identifies the wire encoding of a Chunk.
type ChunkKind uint8

const (
	ChunkShort  ChunkKind = iota + 1 // 2-byte big-endian unsigned
	ChunkInt                         // 4-byte big-endian signed
	ChunkBool                        // 1 byte, 0 or 1
	ChunkString                      // 2-byte length prefix, then raw bytes
	ChunkRaw                         // bytes copied verbatim
)

var chunkKindStrings = map[ChunkKind]string{
	ChunkShort:  "short",
	ChunkInt:    "int",
	ChunkBool:   "bool",
	ChunkString: "string",
	ChunkRaw:    "raw",
}

func (k ChunkKind) String() string {
	if s, ok := chunkKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("ChunkKind(%d)", k)
}

// Chunk is one typed value of a message body. Only the field matching Kind is
// meaningful.
type Chunk struct {
	Kind  ChunkKind
	Short uint16
	Int   int32
	Bool  bool
	Str   string
	Raw   []byte
}

// Short creates a 2-byte chunk.
func Short(v uint16) Chunk { return Chunk{Kind: ChunkShort, Short: v} }

// Int creates a 4-byte chunk.
func Int(v int32) Chunk { return Chunk{Kind: ChunkInt, Int: v} }

// Bool creates a 1-byte chunk.
func Bool(v bool) Chunk { return Chunk{Kind: ChunkBool, Bool: v} }

// String creates a length-prefixed chunk. Strings are byte strings; they are
// written to the wire exactly as stored. A string longer than MaxStringLength
// is rejected by Message.Write and the chunk edits; Builder, Encode and
// Construct truncate it.
func String(v string) Chunk { return Chunk{Kind: ChunkString, Str: v} }

// Raw creates a chunk written verbatim. The slice is copied.
func Raw(v []byte) Chunk { return Chunk{Kind: ChunkRaw, Raw: bytes.Clone(v)} }

// Value returns the chunk payload as an untyped value.
func (c Chunk) Value() any {
	switch c.Kind {
	case ChunkShort:
		return c.Short
	case ChunkInt:
		return c.Int
	case ChunkBool:
		return c.Bool
	case ChunkString:
		return c.Str
	default:
		return c.Raw
	}
}

// String returns a short debug rendering such as "int(-1)".
func (c Chunk) String() string {
	if c.Kind == ChunkRaw {
		return fmt.Sprintf("raw(%x)", c.Raw)
	}
	return fmt.Sprintf("%s(%v)", c.Kind, c.Value())
}

// Validate reports a chunk that cannot be encoded without loss.
func (c Chunk) Validate() error {
	if c.Kind == ChunkString && len(c.Str) > MaxStringLength {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(c.Str))
	}
	return nil
}

// Size returns the number of bytes the chunk occupies on the wire.
func (c Chunk) Size() int {
	switch c.Kind {
	case ChunkShort:
		return 2
	case ChunkInt:
		return 4
	case ChunkBool:
		return 1
	case ChunkString:
		return 2 + min(len(c.Str), MaxStringLength)
	default:
		return len(c.Raw)
	}
}

// Builder accumulates big-endian encoded values.
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf.Reset()
}

// WriteShort writes a uint16 in big-endian order.
func (b *Builder) WriteShort(v uint16) *Builder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteInt writes an int32 in big-endian order.
func (b *Builder) WriteInt(v int32) *Builder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteBool writes a single 0 or 1 byte.
func (b *Builder) WriteBool(v bool) *Builder {
	if v {
		b.buf.WriteByte(1)
	} else {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteString writes a length-prefixed string.
// Format: [length:2][string bytes...]
// Bytes past MaxStringLength are dropped.
func (b *Builder) WriteString(s string) *Builder {
	if len(s) > MaxStringLength {
		s = s[:MaxStringLength]
	}
	b.WriteShort(uint16(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteBytes writes raw bytes.
func (b *Builder) WriteBytes(data []byte) *Builder {
	b.buf.Write(data)
	return b
}

// WriteChunk writes c using the encoding of its kind.
func (b *Builder) WriteChunk(c Chunk) *Builder {
	switch c.Kind {
	case ChunkShort:
		return b.WriteShort(c.Short)
	case ChunkInt:
		return b.WriteInt(c.Int)
	case ChunkBool:
		return b.WriteBool(c.Bool)
	case ChunkString:
		return b.WriteString(c.Str)
	default:
		return b.WriteBytes(c.Raw)
	}
}

// Bytes returns a copy of the accumulated bytes.
func (b *Builder) Bytes() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// Len returns the current number of accumulated bytes.
func (b *Builder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the builder contents for debugging.
func (b *Builder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("Builder[%d bytes]: %x", len(data), data)
}

// Encode concatenates the encodings of chunks.
func Encode(chunks ...Chunk) []byte {
	b := NewBuilder()
	for _, c := range chunks {
		b.WriteChunk(c)
	}
	return b.Bytes()
}

// Construct builds a complete frame: length prefix, header and encoded chunks.
func Construct(header uint16, chunks ...Chunk) []byte {
	body := Encode(chunks...)
	b := NewBuilder()
	b.WriteInt(int32(len(body) + HeaderSize))
	b.WriteShort(header)
	b.WriteBytes(body)
	return b.Bytes()
}
