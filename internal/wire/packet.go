package wire

import (
	"hash/crc32"

	"github.com/rft-go/rft/internal/protocol"
)

// Packet is one UDP datagram payload: a header followed by exactly
// Header.FrameCount frames, concatenated without padding (spec.md §3).
type Packet struct {
	Version      protocol.Version
	ConnectionID protocol.ConnectionID
	Frames       []Frame
}

// Encode writes the header with the CRC field zeroed, appends the
// encoded frames in order, computes CRC-32 over the full byte
// sequence, and splices its top 20 bits into the CRC field (spec.md
// §4.1).
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Frames) > protocol.MaxFramesPerPacket {
		return nil, ErrLengthMismatch
	}
	size := int(protocol.HeaderSize)
	for _, f := range p.Frames {
		size += f.EncodedLen()
	}
	buf := make([]byte, protocol.HeaderSize, size)
	encodeHeader(buf, Header{
		Version:      p.Version,
		CRC:          0,
		FrameCount:   uint8(len(p.Frames)),
		ConnectionID: p.ConnectionID,
	})
	for _, f := range p.Frames {
		buf = f.AppendTo(buf)
	}

	zeroCRC(buf)
	full := crc32.ChecksumIEEE(buf)
	crc := full >> 12 // top 20 bits

	encodeHeader(buf[:protocol.HeaderSize], Header{
		Version:      p.Version,
		CRC:          crc,
		FrameCount:   uint8(len(p.Frames)),
		ConnectionID: p.ConnectionID,
	})
	return buf, nil
}

// Decode parses the header, verifies the CRC, then parses exactly
// FrameCount frames (spec.md §4.1). A CRC mismatch or a frame-count
// mismatch both surface as errors; per spec.md §3's invariants the
// caller is expected to drop such packets silently rather than act on
// them.
func Decode(b []byte) (*Packet, error) {
	hdr, err := decodeHeader(b)
	if err != nil {
		return nil, err
	}

	check := make([]byte, len(b))
	copy(check, b)
	zeroCRC(check)
	full := crc32.ChecksumIEEE(check)
	if full>>12 != hdr.CRC {
		return nil, ErrBadCrc
	}

	rest := b[protocol.HeaderSize:]
	frames := make([]Frame, 0, hdr.FrameCount)
	for i := 0; i < int(hdr.FrameCount); i++ {
		f, n, err := decodeFrame(rest)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, ErrLengthMismatch
	}

	return &Packet{
		Version:      hdr.Version,
		ConnectionID: hdr.ConnectionID,
		Frames:       frames,
	}, nil
}
