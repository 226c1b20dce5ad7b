package wire

import (
	"encoding/binary"

	"github.com/rft-go/rft/internal/protocol"
)

// Frame is satisfied by every RFT frame variant.
type Frame interface {
	Type() FrameType
	// AppendTo appends the wire encoding of the frame (type byte
	// included) to b and returns the extended slice.
	AppendTo(b []byte) []byte
	// EncodedLen is the exact number of bytes AppendTo will add.
	EncodedLen() int
}

// DataFrame carries a contiguous byte range of a transfer (spec.md
// §3). Offset and Length are u48 on the wire.
type DataFrame struct {
	FrameID protocol.FrameID
	Offset  uint64
	Length  uint64
	Payload []byte
}

func (f *DataFrame) Type() FrameType { return FrameTypeData }

func (f *DataFrame) EncodedLen() int {
	return 1 + 4 + 6 + 6 + len(f.Payload)
}

func (f *DataFrame) AppendTo(b []byte) []byte {
	b = append(b, byte(FrameTypeData))
	b = appendUint32(b, uint32(f.FrameID))
	var off, ln [6]byte
	putUint48(off[:], f.Offset)
	putUint48(ln[:], f.Length)
	b = append(b, off[:]...)
	b = append(b, ln[:]...)
	return append(b, f.Payload...)
}

func decodeDataFrame(b []byte) (*DataFrame, int, error) {
	const fixed = 1 + 4 + 6 + 6
	if len(b) < fixed {
		return nil, 0, ErrTruncatedFrame
	}
	id := binary.LittleEndian.Uint32(b[1:5])
	offset := uint48(b[5:11])
	length := uint48(b[11:17])
	total := fixed + int(length)
	if len(b) < total {
		return nil, 0, ErrTruncatedFrame
	}
	payload := make([]byte, length)
	copy(payload, b[fixed:total])
	return &DataFrame{
		FrameID: protocol.FrameID(id),
		Offset:  offset,
		Length:  length,
		Payload: payload,
	}, total, nil
}

// AckFrame acknowledges every frame with ID <= FrameID on the peer's
// send stream (spec.md §3 — cumulative acknowledgement).
type AckFrame struct {
	FrameID protocol.FrameID
}

func (f *AckFrame) Type() FrameType   { return FrameTypeAck }
func (f *AckFrame) EncodedLen() int   { return 1 + 4 }
func (f *AckFrame) AppendTo(b []byte) []byte {
	b = append(b, byte(FrameTypeAck))
	return appendUint32(b, uint32(f.FrameID))
}

func decodeAckFrame(b []byte) (*AckFrame, int, error) {
	if len(b) < 5 {
		return nil, 0, ErrTruncatedFrame
	}
	return &AckFrame{FrameID: protocol.FrameID(binary.LittleEndian.Uint32(b[1:5]))}, 5, nil
}

// FlowFrame advertises the sender's receive window, in bytes
// (spec.md §9, "Open question — Flow frame semantics": fixed as bytes).
type FlowFrame struct {
	WindowSize uint16
	Reserved   uint8
}

func (f *FlowFrame) Type() FrameType { return FrameTypeFlow }
func (f *FlowFrame) EncodedLen() int { return 1 + 2 + 1 }
func (f *FlowFrame) AppendTo(b []byte) []byte {
	b = append(b, byte(FrameTypeFlow))
	var ws [2]byte
	binary.LittleEndian.PutUint16(ws[:], f.WindowSize)
	b = append(b, ws[:]...)
	return append(b, f.Reserved)
}

func decodeFlowFrame(b []byte) (*FlowFrame, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrTruncatedFrame
	}
	return &FlowFrame{
		WindowSize: binary.LittleEndian.Uint16(b[1:3]),
		Reserved:   b[3],
	}, 4, nil
}

// ErrorFrame reports a connection- or command-scoped failure
// (spec.md §6 error codes).
type ErrorFrame struct {
	FrameID protocol.FrameID
	Code    uint8
	Message string
}

func (f *ErrorFrame) Type() FrameType { return FrameTypeError }
func (f *ErrorFrame) EncodedLen() int { return 1 + 4 + 1 + stringLen(f.Message) }
func (f *ErrorFrame) AppendTo(b []byte) []byte {
	b = append(b, byte(FrameTypeError))
	b = appendUint32(b, uint32(f.FrameID))
	b = append(b, f.Code)
	return appendString(b, f.Message)
}

func decodeErrorFrame(b []byte) (*ErrorFrame, int, error) {
	if len(b) < 6 {
		return nil, 0, ErrTruncatedFrame
	}
	id := binary.LittleEndian.Uint32(b[1:5])
	code := b[5]
	msg, n, err := readString(b[6:])
	if err != nil {
		return nil, 0, err
	}
	return &ErrorFrame{FrameID: protocol.FrameID(id), Code: code, Message: msg}, 6 + n, nil
}

// ConnectionIDChangeFrame renegotiates the CID during handshake, or
// (in principle) later (spec.md §4.4).
type ConnectionIDChangeFrame struct {
	FrameID protocol.FrameID
	OldCID  protocol.ConnectionID
	NewCID  protocol.ConnectionID
}

func (f *ConnectionIDChangeFrame) Type() FrameType { return FrameTypeConnectionIDChange }
func (f *ConnectionIDChangeFrame) EncodedLen() int  { return 1 + 4 + 4 + 4 }
func (f *ConnectionIDChangeFrame) AppendTo(b []byte) []byte {
	b = append(b, byte(FrameTypeConnectionIDChange))
	b = appendUint32(b, uint32(f.FrameID))
	b = appendUint32(b, uint32(f.OldCID))
	return appendUint32(b, uint32(f.NewCID))
}

func decodeConnectionIDChangeFrame(b []byte) (*ConnectionIDChangeFrame, int, error) {
	if len(b) < 13 {
		return nil, 0, ErrTruncatedFrame
	}
	return &ConnectionIDChangeFrame{
		FrameID: protocol.FrameID(binary.LittleEndian.Uint32(b[1:5])),
		OldCID:  protocol.ConnectionID(binary.LittleEndian.Uint32(b[5:9])),
		NewCID:  protocol.ConnectionID(binary.LittleEndian.Uint32(b[9:13])),
	}, 13, nil
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}
