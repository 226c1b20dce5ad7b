package wire

import "encoding/binary"

// CommandType is the 8-bit command discriminant (spec.md §6). 0 is
// reserved.
type CommandType uint8

const (
	CommandRead   CommandType = 1
	CommandWrite  CommandType = 2
	CommandList   CommandType = 3
	CommandDelete CommandType = 4
	CommandStat   CommandType = 5
	CommandExit   CommandType = 6
)

func (c CommandType) String() string {
	switch c {
	case CommandRead:
		return "READ"
	case CommandWrite:
		return "WRITE"
	case CommandList:
		return "LIST"
	case CommandDelete:
		return "DELETE"
	case CommandStat:
		return "STAT"
	case CommandExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// CommandPayload is the per-command-type encoding carried inside a
// Command frame. Every variant is self-delimiting (fixed fields plus
// length-prefixed strings) so the frame needs no separate length
// field (spec.md §3's ReadCmdPayload is the model every other command
// payload follows).
type CommandPayload interface {
	commandType() CommandType
	AppendTo(b []byte) []byte
	EncodedLen() int
}

// AnswerPayload is the per-command-type encoding carried inside an
// Answer frame.
type AnswerPayload interface {
	answerType() CommandType
	AppendTo(b []byte) []byte
	EncodedLen() int
}

// ReadCmdPayload is spec.md §3's named frame-8 layout: offset, length,
// expected CRC, and the path to read, carried inside Command(Read).
type ReadCmdPayload struct {
	Offset uint64
	Length uint64
	CRC32  uint32
	Path   string
}

func (ReadCmdPayload) commandType() CommandType { return CommandRead }
func (p ReadCmdPayload) EncodedLen() int         { return 6 + 6 + 4 + stringLen(p.Path) }
func (p ReadCmdPayload) AppendTo(b []byte) []byte {
	var off, ln [6]byte
	putUint48(off[:], p.Offset)
	putUint48(ln[:], p.Length)
	b = append(b, off[:]...)
	b = append(b, ln[:]...)
	b = appendUint32(b, p.CRC32)
	return appendString(b, p.Path)
}

func decodeReadCmdPayload(b []byte) (ReadCmdPayload, int, error) {
	if len(b) < 16 {
		return ReadCmdPayload{}, 0, ErrTruncatedFrame
	}
	offset := uint48(b[0:6])
	length := uint48(b[6:12])
	crc := binary.LittleEndian.Uint32(b[12:16])
	path, n, err := readString(b[16:])
	if err != nil {
		return ReadCmdPayload{}, 0, err
	}
	return ReadCmdPayload{Offset: offset, Length: length, CRC32: crc, Path: path}, 16 + n, nil
}

// WriteCmdPayload mirrors ReadCmdPayload for the symmetric Write
// command (spec.md §4.5: "Write: symmetric"; the exact field layout
// for Write is this implementation's choice: the same fields, in the
// same order, as ReadCmdPayload).
type WriteCmdPayload struct {
	Offset uint64
	Length uint64
	CRC32  uint32 // 0 if the client doesn't know the final CRC yet
	Path   string
}

func (WriteCmdPayload) commandType() CommandType { return CommandWrite }
func (p WriteCmdPayload) EncodedLen() int         { return 6 + 6 + 4 + stringLen(p.Path) }
func (p WriteCmdPayload) AppendTo(b []byte) []byte {
	var off, ln [6]byte
	putUint48(off[:], p.Offset)
	putUint48(ln[:], p.Length)
	b = append(b, off[:]...)
	b = append(b, ln[:]...)
	b = appendUint32(b, p.CRC32)
	return appendString(b, p.Path)
}

func decodeWriteCmdPayload(b []byte) (WriteCmdPayload, int, error) {
	if len(b) < 16 {
		return WriteCmdPayload{}, 0, ErrTruncatedFrame
	}
	offset := uint48(b[0:6])
	length := uint48(b[6:12])
	crc := binary.LittleEndian.Uint32(b[12:16])
	path, n, err := readString(b[16:])
	if err != nil {
		return WriteCmdPayload{}, 0, err
	}
	return WriteCmdPayload{Offset: offset, Length: length, CRC32: crc, Path: path}, 16 + n, nil
}

// PathPayload is the payload shape for List, Delete and Stat
// commands: just the path.
type PathPayload struct {
	Path string
	typ  CommandType
}

func NewPathPayload(typ CommandType, path string) PathPayload {
	return PathPayload{Path: path, typ: typ}
}

func (p PathPayload) commandType() CommandType { return p.typ }

// Type exposes the command type this payload was decoded for (List,
// Delete or Stat), so callers outside the package can dispatch on it.
func (p PathPayload) Type() CommandType         { return p.typ }
func (p PathPayload) EncodedLen() int           { return stringLen(p.Path) }
func (p PathPayload) AppendTo(b []byte) []byte  { return appendString(b, p.Path) }

func decodePathPayload(typ CommandType, b []byte) (PathPayload, int, error) {
	path, n, err := readString(b)
	if err != nil {
		return PathPayload{}, 0, err
	}
	return PathPayload{Path: path, typ: typ}, n, nil
}

// EmptyPayload is the payload shape for Exit: no fields.
type EmptyPayload struct{}

func (EmptyPayload) commandType() CommandType { return CommandExit }
func (EmptyPayload) EncodedLen() int           { return 0 }
func (EmptyPayload) AppendTo(b []byte) []byte  { return b }

// StatusAnswerPayload is "a status code plus optional detail"
// (spec.md §4.5) used for every Answer except List.
type StatusAnswerPayload struct {
	Status uint8
	Detail string
	typ    CommandType
}

func NewStatusAnswerPayload(typ CommandType, status uint8, detail string) StatusAnswerPayload {
	return StatusAnswerPayload{Status: status, Detail: detail, typ: typ}
}

func (p StatusAnswerPayload) answerType() CommandType { return p.typ }
func (p StatusAnswerPayload) EncodedLen() int          { return 1 + stringLen(p.Detail) }
func (p StatusAnswerPayload) AppendTo(b []byte) []byte {
	b = append(b, p.Status)
	return appendString(b, p.Detail)
}

func decodeStatusAnswerPayload(typ CommandType, b []byte) (StatusAnswerPayload, int, error) {
	if len(b) < 1 {
		return StatusAnswerPayload{}, 0, ErrTruncatedFrame
	}
	status := b[0]
	detail, n, err := readString(b[1:])
	if err != nil {
		return StatusAnswerPayload{}, 0, err
	}
	return StatusAnswerPayload{Status: status, Detail: detail, typ: typ}, 1 + n, nil
}

// ListAnswerPayload carries directory entries separated by newline
// (spec.md §4.5).
type ListAnswerPayload struct {
	Entries string
}

func (ListAnswerPayload) answerType() CommandType { return CommandList }
func (p ListAnswerPayload) EncodedLen() int         { return stringLen(p.Entries) }
func (p ListAnswerPayload) AppendTo(b []byte) []byte { return appendString(b, p.Entries) }

func decodeListAnswerPayload(b []byte) (ListAnswerPayload, int, error) {
	entries, n, err := readString(b)
	if err != nil {
		return ListAnswerPayload{}, 0, err
	}
	return ListAnswerPayload{Entries: entries}, n, nil
}

func decodeCommandPayload(typ CommandType, b []byte) (CommandPayload, int, error) {
	switch typ {
	case CommandRead:
		return decodeReadCmdPayload(b)
	case CommandWrite:
		return decodeWriteCmdPayload(b)
	case CommandList, CommandDelete, CommandStat:
		return decodePathPayload(typ, b)
	case CommandExit:
		return EmptyPayload{}, 0, nil
	default:
		return nil, 0, ErrUnknownFrameType
	}
}

func decodeAnswerPayload(typ CommandType, b []byte) (AnswerPayload, int, error) {
	if typ == CommandList {
		return decodeListAnswerPayload(b)
	}
	return decodeStatusAnswerPayload(typ, b)
}
