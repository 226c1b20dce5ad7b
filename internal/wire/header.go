package wire

import (
	"encoding/binary"

	"github.com/rft-go/rft/internal/protocol"
)

// Header is the fixed 8-byte packet header (spec.md §3, §9): a 4-bit
// version and a 20-bit CRC share the first three bytes with each
// other, the frame count gets its own byte, and the connection ID
// fills the last four bytes little-endian.
type Header struct {
	Version      protocol.Version
	CRC          uint32 // low 20 bits significant
	FrameCount   uint8
	ConnectionID protocol.ConnectionID
}

const crcMask = 1<<20 - 1

// encodeHeader writes h into buf[0:8]. Callers that want to compute
// the CRC over the whole packet first encode with CRC=0, hash, then
// encode again with the real value (see Packet.Encode).
func encodeHeader(buf []byte, h Header) {
	crc := h.CRC & crcMask
	buf[0] = byte(h.Version&0xf) | byte((crc&0xf)<<4)
	buf[1] = byte((crc >> 4) & 0xff)
	buf[2] = byte((crc >> 12) & 0xff)
	buf[3] = h.FrameCount
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ConnectionID))
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < int(protocol.HeaderSize) {
		return Header{}, ErrTruncatedHeader
	}
	version := protocol.Version(buf[0] & 0xf)
	crc := uint32(buf[0]>>4) | uint32(buf[1])<<4 | uint32(buf[2])<<12
	return Header{
		Version:      version,
		CRC:          crc & crcMask,
		FrameCount:   buf[3],
		ConnectionID: protocol.ConnectionID(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

// zeroCRC clears the CRC bits of an already-encoded header in place,
// so the packet's CRC can be recomputed over a zeroed field as
// spec.md §3 requires.
func zeroCRC(buf []byte) {
	buf[0] &^= 0xf0
	buf[1] = 0
	buf[2] = 0
}
