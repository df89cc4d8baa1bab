package protocol

import "bytes"

// Split cuts data into complete frames, carrying partial frames between calls
// in cache. When shouldSplit is false (the stream is still encrypted and
// lengths cannot be read) the data is returned as a single item untouched.
//
// Returned frames alias data (or the merged cache buffer) and carry no spare
// capacity.
func Split(cache *[]byte, data []byte, shouldSplit bool) [][]byte {
	if !shouldSplit {
		return [][]byte{data}
	}

	if len(*cache) > 0 {
		merged := make([]byte, 0, len(*cache)+len(data))
		merged = append(merged, *cache...)
		data = append(merged, data...)
		*cache = nil
	}

	var frames [][]byte
	for len(data) > 0 {
		if len(data) < LengthPrefixSize {
			*cache = bytes.Clone(data)
			break
		}

		length := int(DecypherInt(data, 0))
		if length < 0 {
			// Unreadable prefix; hand the rest on as one frame so it surfaces
			// as a corrupted message instead of stalling the stream.
			frames = append(frames, data)
			break
		}
		if length > len(data)-LengthPrefixSize {
			*cache = bytes.Clone(data)
			break
		}

		size := length + LengthPrefixSize
		frames = append(frames, data[:size:size])
		data = data[size:]
	}
	return frames
}

// FrameSplitter owns the partial-frame cache of one stream direction. Not
// safe for concurrent use.
type FrameSplitter struct {
	cache []byte
}

// NewFrameSplitter creates a splitter with an empty cache.
func NewFrameSplitter() *FrameSplitter {
	return &FrameSplitter{}
}

// Feed splits data, completing any frame left over from earlier calls.
func (s *FrameSplitter) Feed(data []byte, shouldSplit bool) [][]byte {
	return Split(&s.cache, data, shouldSplit)
}

// Pending returns the number of bytes waiting for the rest of their frame.
func (s *FrameSplitter) Pending() int {
	return len(s.cache)
}

// Reset drops any cached partial frame.
func (s *FrameSplitter) Reset() {
	s.cache = nil
}
