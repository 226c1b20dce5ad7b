package wire

import "errors"

// Decode failures (spec.md §4.1). Wire errors never panic; the caller
// (the multiplexer) is expected to drop the packet silently for
// anything except the ones it chooses to log.
var (
	ErrTruncatedHeader  = errors.New("wire: truncated header")
	ErrBadCrc           = errors.New("wire: bad crc")
	ErrUnknownFrameType = errors.New("wire: unknown frame type")
	ErrTruncatedFrame   = errors.New("wire: truncated frame")
	ErrBadUtf8          = errors.New("wire: invalid utf-8 string")
	ErrLengthMismatch   = errors.New("wire: declared frame count does not match frames parsed")
)
