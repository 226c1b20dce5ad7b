package wire

import (
	"encoding/binary"

	"github.com/rft-go/rft/internal/protocol"
)

// CommandFrame carries a client-issued command (spec.md §4.5). Its
// FrameID is the correlation key the matching Answer echoes.
type CommandFrame struct {
	FrameID     protocol.FrameID
	CommandType CommandType
	Payload     CommandPayload
}

func (f *CommandFrame) Type() FrameType { return FrameTypeCommand }
func (f *CommandFrame) EncodedLen() int  { return 1 + 4 + 1 + f.Payload.EncodedLen() }
func (f *CommandFrame) AppendTo(b []byte) []byte {
	b = append(b, byte(FrameTypeCommand))
	b = appendUint32(b, uint32(f.FrameID))
	b = append(b, byte(f.CommandType))
	return f.Payload.AppendTo(b)
}

func decodeCommandFrame(b []byte) (*CommandFrame, int, error) {
	if len(b) < 6 {
		return nil, 0, ErrTruncatedFrame
	}
	id := binary.LittleEndian.Uint32(b[1:5])
	ct := CommandType(b[5])
	payload, n, err := decodeCommandPayload(ct, b[6:])
	if err != nil {
		return nil, 0, err
	}
	return &CommandFrame{
		FrameID:     protocol.FrameID(id),
		CommandType: ct,
		Payload:     payload,
	}, 6 + n, nil
}

// AnswerFrame is the server-issued reply, correlated to its Command by
// FrameID (spec.md §4.5).
type AnswerFrame struct {
	FrameID     protocol.FrameID
	CommandType CommandType
	Payload     AnswerPayload
}

func (f *AnswerFrame) Type() FrameType { return FrameTypeAnswer }
func (f *AnswerFrame) EncodedLen() int  { return 1 + 4 + 1 + f.Payload.EncodedLen() }
func (f *AnswerFrame) AppendTo(b []byte) []byte {
	b = append(b, byte(FrameTypeAnswer))
	b = appendUint32(b, uint32(f.FrameID))
	b = append(b, byte(f.CommandType))
	return f.Payload.AppendTo(b)
}

func decodeAnswerFrame(b []byte) (*AnswerFrame, int, error) {
	if len(b) < 6 {
		return nil, 0, ErrTruncatedFrame
	}
	id := binary.LittleEndian.Uint32(b[1:5])
	ct := CommandType(b[5])
	payload, n, err := decodeAnswerPayload(ct, b[6:])
	if err != nil {
		return nil, 0, err
	}
	return &AnswerFrame{
		FrameID:     protocol.FrameID(id),
		CommandType: ct,
		Payload:     payload,
	}, 6 + n, nil
}
