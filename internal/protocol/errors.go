package protocol

import "errors"

var (
	// ErrInsufficientData is returned when a read would run past the end of the body.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrCorrupted is returned by reads and writes on a message whose length
	// prefix did not match the data it was built from.
	ErrCorrupted = errors.New("message is corrupted")

	// ErrNotConstructible is returned by rank-based edits on a message that was
	// not built incrementally from chunks.
	ErrNotConstructible = errors.New("message was not constructed from chunks")

	// ErrStringTooLong is returned when a string chunk does not fit its
	// 2-byte length prefix.
	ErrStringTooLong = errors.New("string exceeds 65535 bytes")

	ErrChunkOutOfRange = errors.New("chunk rank out of range")
	ErrEmptyKey        = errors.New("rc4 key is empty")
	ErrMalformedText   = errors.New("malformed message text")
)
