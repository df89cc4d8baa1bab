package protocol

import (
	"bytes"
	"slices"
)

// Message is one decoded frame: a header and a body, plus a read cursor and
// logs of the chunks read from and written to it.
//
// A frame whose length prefix does not match the data it arrived in is kept
// as a corrupted message: its original bytes are preserved verbatim, the
// header cannot be changed, and every read, write and edit fails with
// ErrCorrupted.
//
// A Message is not safe for concurrent use.
type Message struct {
	header      uint16
	body        []byte
	position    int
	destination Destination

	corrupted   bool
	incremental bool

	chunksRead    []Chunk
	chunksWritten []Chunk

	// raw holds the serialized frame. For a corrupted message it is the
	// original input and never changes.
	raw       []byte
	rawValid  bool
	text      string
	textValid bool
}

// NewMessage decodes a complete frame. The input is copied.
func NewMessage(data []byte, dest Destination) *Message {
	m := &Message{destination: dest}
	if len(data) < FrameOverhead || int(DecypherInt(data, 0)) != len(data)-LengthPrefixSize {
		m.corrupted = true
		m.raw = bytes.Clone(data)
		m.rawValid = true
		return m
	}

	m.header = DecypherShort(data, LengthPrefixSize)
	m.body = bytes.Clone(data[FrameOverhead:])
	return m
}

// NewMessageFromChunks builds a message from a header and typed chunks. Only
// messages built this way support the rank-based chunk edits. Strings longer
// than MaxStringLength are truncated; use Write to have them rejected.
func NewMessageFromChunks(header uint16, dest Destination, chunks ...Chunk) *Message {
	m := &Message{
		header:        header,
		destination:   dest,
		incremental:   true,
		chunksWritten: slices.Clone(chunks),
	}
	m.body = Encode(chunks...)
	return m
}

// ParseMessage builds a message from its text form. Text without a {l} token
// yields a frame without a length prefix and therefore a corrupted message.
func ParseMessage(text string, dest Destination) (*Message, error) {
	data, err := ParseText(text)
	if err != nil {
		return nil, err
	}
	return NewMessage(data, dest), nil
}

// Clone returns a deep copy of m with the same cursor position.
func (m *Message) Clone() *Message {
	c := *m
	c.body = bytes.Clone(m.body)
	c.raw = bytes.Clone(m.raw)
	c.chunksRead = slices.Clone(m.chunksRead)
	c.chunksWritten = slices.Clone(m.chunksWritten)
	return &c
}

func (m *Message) invalidate() {
	if m.corrupted {
		return
	}
	m.rawValid = false
	m.textValid = false
}

// Header returns the 16-bit message type.
func (m *Message) Header() uint16 { return m.header }

// SetHeader changes the header. It is a no-op on a corrupted message.
func (m *Message) SetHeader(header uint16) {
	if m.corrupted {
		return
	}
	m.header = header
	m.invalidate()
}

// Body returns a copy of the body bytes.
func (m *Message) Body() []byte { return bytes.Clone(m.body) }

// Length returns the value of the length prefix: body plus header. It is 0
// for a corrupted message.
func (m *Message) Length() int {
	if m.corrupted {
		return 0
	}
	return len(m.body) + HeaderSize
}

// Position returns the read cursor, an offset into the body.
func (m *Message) Position() int { return m.position }

// SetPosition moves the read cursor.
func (m *Message) SetPosition(pos int) { m.position = pos }

func (m *Message) Destination() Destination { return m.destination }

func (m *Message) IsCorrupted() bool { return m.corrupted }

// IsIncremental reports whether the message was built from a header and
// chunks and so supports rank-based edits.
func (m *Message) IsIncremental() bool { return m.incremental }

// ChunksRead returns the chunks successfully read so far, in read order.
func (m *Message) ChunksRead() []Chunk { return slices.Clone(m.chunksRead) }

// ChunksWritten returns the chunks that make up the body of an incremental
// message, plus any appended with Write.
func (m *Message) ChunksWritten() []Chunk { return slices.Clone(m.chunksWritten) }

// ---- Reads ----

func decodeShort(body []byte, index int) (uint16, error) {
	if index < 0 || len(body)-index < 2 {
		return 0, ErrInsufficientData
	}
	return DecypherShort(body, index), nil
}

func decodeInt(body []byte, index int) (int32, error) {
	if index < 0 || len(body)-index < 4 {
		return 0, ErrInsufficientData
	}
	return DecypherInt(body, index), nil
}

func decodeBool(body []byte, index int) (bool, error) {
	if index < 0 || index >= len(body) {
		return false, ErrInsufficientData
	}
	return body[index] == 1, nil
}

// decodeString returns the string at index and the number of bytes it spans,
// prefix included.
func decodeString(body []byte, index int) (string, int, error) {
	n, err := decodeShort(body, index)
	if err != nil {
		return "", 0, err
	}
	start := index + 2
	if len(body)-start < int(n) {
		return "", 0, ErrInsufficientData
	}
	return string(body[start : start+int(n)]), 2 + int(n), nil
}

func decodeBytes(body []byte, index, n int) ([]byte, error) {
	if index < 0 || n < 0 || len(body)-index < n {
		return nil, ErrInsufficientData
	}
	return bytes.Clone(body[index : index+n]), nil
}

// ReadShortAt reads a uint16 at index without moving the cursor.
func (m *Message) ReadShortAt(index int) (uint16, error) {
	if m.corrupted {
		return 0, ErrCorrupted
	}
	v, err := decodeShort(m.body, index)
	if err != nil {
		return 0, err
	}
	m.chunksRead = append(m.chunksRead, Short(v))
	return v, nil
}

// ReadShort reads a uint16 at the cursor and advances it.
func (m *Message) ReadShort() (uint16, error) {
	v, err := m.ReadShortAt(m.position)
	if err == nil {
		m.position += 2
	}
	return v, err
}

// ReadIntAt reads an int32 at index without moving the cursor.
func (m *Message) ReadIntAt(index int) (int32, error) {
	if m.corrupted {
		return 0, ErrCorrupted
	}
	v, err := decodeInt(m.body, index)
	if err != nil {
		return 0, err
	}
	m.chunksRead = append(m.chunksRead, Int(v))
	return v, nil
}

// ReadInt reads an int32 at the cursor and advances it.
func (m *Message) ReadInt() (int32, error) {
	v, err := m.ReadIntAt(m.position)
	if err == nil {
		m.position += 4
	}
	return v, err
}

// ReadBoolAt reads a boolean at index without moving the cursor. Any byte
// other than 1 reads as false.
func (m *Message) ReadBoolAt(index int) (bool, error) {
	if m.corrupted {
		return false, ErrCorrupted
	}
	v, err := decodeBool(m.body, index)
	if err != nil {
		return false, err
	}
	m.chunksRead = append(m.chunksRead, Bool(v))
	return v, nil
}

// ReadBool reads a boolean at the cursor and advances it.
func (m *Message) ReadBool() (bool, error) {
	v, err := m.ReadBoolAt(m.position)
	if err == nil {
		m.position++
	}
	return v, err
}

// ReadStringAt reads a length-prefixed string at index without moving the
// cursor.
func (m *Message) ReadStringAt(index int) (string, error) {
	if m.corrupted {
		return "", ErrCorrupted
	}
	v, _, err := decodeString(m.body, index)
	if err != nil {
		return "", err
	}
	m.chunksRead = append(m.chunksRead, String(v))
	return v, nil
}

// ReadString reads a length-prefixed string at the cursor and advances past it.
func (m *Message) ReadString() (string, error) {
	if m.corrupted {
		return "", ErrCorrupted
	}
	v, size, err := decodeString(m.body, m.position)
	if err != nil {
		return "", err
	}
	m.chunksRead = append(m.chunksRead, String(v))
	m.position += size
	return v, nil
}

// ReadBytesAt reads n raw bytes at index without moving the cursor.
func (m *Message) ReadBytesAt(n, index int) ([]byte, error) {
	if m.corrupted {
		return nil, ErrCorrupted
	}
	v, err := decodeBytes(m.body, index, n)
	if err != nil {
		return nil, err
	}
	m.chunksRead = append(m.chunksRead, Raw(v))
	return v, nil
}

// ReadBytes reads n raw bytes at the cursor and advances it.
func (m *Message) ReadBytes(n int) ([]byte, error) {
	v, err := m.ReadBytesAt(n, m.position)
	if err == nil {
		m.position += n
	}
	return v, err
}

// CanReadAt reports whether a value of kind could be read at index. It never
// moves the cursor or records a chunk. For ChunkRaw it reports whether index
// lies inside the body.
func (m *Message) CanReadAt(kind ChunkKind, index int) bool {
	if m.corrupted {
		return false
	}

	var err error
	switch kind {
	case ChunkShort:
		_, err = decodeShort(m.body, index)
	case ChunkInt:
		_, err = decodeInt(m.body, index)
	case ChunkBool:
		_, err = decodeBool(m.body, index)
	case ChunkString:
		_, _, err = decodeString(m.body, index)
	default:
		_, err = decodeBytes(m.body, index, 1)
	}
	return err == nil
}

// CanRead reports whether a value of kind could be read at the cursor.
func (m *Message) CanRead(kind ChunkKind) bool {
	return m.CanReadAt(kind, m.position)
}

// ---- Writes ----

// Write appends the encodings of chunks to the body.
func (m *Message) Write(chunks ...Chunk) error {
	if m.corrupted {
		return ErrCorrupted
	}
	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	b := NewBuilder().WriteBytes(m.body)
	for _, c := range chunks {
		b.WriteChunk(c)
	}
	m.body = b.Bytes()
	m.chunksWritten = append(m.chunksWritten, chunks...)
	m.invalidate()
	return nil
}

func (m *Message) checkEditable() error {
	if m.corrupted {
		return ErrCorrupted
	}
	if !m.incremental {
		return ErrNotConstructible
	}
	return nil
}

func (m *Message) checkRank(rank int) error {
	if err := m.checkEditable(); err != nil {
		return err
	}
	if rank < 0 || rank >= len(m.chunksWritten) {
		return ErrChunkOutOfRange
	}
	return nil
}

func (m *Message) rebuild() {
	m.body = Encode(m.chunksWritten...)
	m.invalidate()
}

// RemoveChunk removes the chunk at rank and re-encodes the body.
func (m *Message) RemoveChunk(rank int) error {
	if err := m.checkRank(rank); err != nil {
		return err
	}
	m.chunksWritten = slices.Delete(m.chunksWritten, rank, rank+1)
	m.rebuild()
	return nil
}

// ReplaceChunk swaps the chunk at rank for c and re-encodes the body.
func (m *Message) ReplaceChunk(rank int, c Chunk) error {
	if err := m.checkRank(rank); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	m.chunksWritten[rank] = c
	m.rebuild()
	return nil
}

// InsertChunk inserts c before the chunk at rank and re-encodes the body. A
// rank equal to the number of chunks appends.
func (m *Message) InsertChunk(rank int, c Chunk) error {
	if err := m.checkEditable(); err != nil {
		return err
	}
	if rank < 0 || rank > len(m.chunksWritten) {
		return ErrChunkOutOfRange
	}
	if err := c.Validate(); err != nil {
		return err
	}
	m.chunksWritten = slices.Insert(m.chunksWritten, rank, c)
	m.rebuild()
	return nil
}

// PushChunk moves the chunk at rank jump places towards the end, stopping at
// the last position. A jump below 1 counts as 1.
func (m *Message) PushChunk(rank, jump int) error {
	if err := m.checkRank(rank); err != nil {
		return err
	}
	m.moveChunk(rank, min(rank+max(jump, 1), len(m.chunksWritten)-1))
	return nil
}

// PullChunk moves the chunk at rank jump places towards the start, stopping
// at the first position. A jump below 1 counts as 1.
func (m *Message) PullChunk(rank, jump int) error {
	if err := m.checkRank(rank); err != nil {
		return err
	}
	m.moveChunk(rank, max(rank-max(jump, 1), 0))
	return nil
}

func (m *Message) moveChunk(from, to int) {
	c := m.chunksWritten[from]
	m.chunksWritten = slices.Delete(m.chunksWritten, from, from+1)
	m.chunksWritten = slices.Insert(m.chunksWritten, to, c)
	m.rebuild()
}

// ---- Serialization ----

// ToBytes returns the complete frame. A corrupted message returns its
// original input unchanged.
func (m *Message) ToBytes() []byte {
	if !m.rawValid {
		m.raw = NewBuilder().
			WriteInt(int32(len(m.body) + HeaderSize)).
			WriteShort(m.header).
			WriteBytes(m.body).
			Bytes()
		m.rawValid = true
	}
	return bytes.Clone(m.raw)
}

// String returns the text form of the message, e.g. "{l}{u:1000}[0][3]abc".
// A corrupted message renders its raw bytes escaped, without tokens.
func (m *Message) String() string {
	if !m.textValid {
		if m.corrupted {
			m.text = EscapeText(m.raw)
		} else {
			m.text = FormatText(m.header, m.body)
		}
		m.textValid = true
	}
	return m.text
}
