package wire

import (
	"encoding/binary"
	"unicode/utf8"
)

// appendString writes s as a u16 length prefix followed by its UTF-8
// bytes (spec.md §3: "Strings: length-prefixed UTF-8, length as u16"
// — no terminator on the wire despite the draft language, per §4.1).
func appendString(b []byte, s string) []byte {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	b = append(b, lenBuf[:]...)
	return append(b, s...)
}

// readString parses a u16-length-prefixed UTF-8 string from the front
// of b, returning the string, the number of bytes consumed, and an
// error.
func readString(b []byte) (string, int, error) {
	if len(b) < 2 {
		return "", 0, ErrTruncatedFrame
	}
	n := int(binary.LittleEndian.Uint16(b))
	if len(b) < 2+n {
		return "", 0, ErrTruncatedFrame
	}
	raw := b[2 : 2+n]
	if !utf8.Valid(raw) {
		return "", 0, ErrBadUtf8
	}
	return string(raw), 2 + n, nil
}

func stringLen(s string) int { return 2 + len(s) }
