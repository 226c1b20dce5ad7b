// Package command implements the command layer (spec.md §4.5): it
// turns a decoded Command frame into the filesystem work it names and
// the Answer (and, for Read, Data frames) that work produces.
//
// A Handler is scoped to one connection. RFT allows only one active
// inbound (Write) and one active outbound (Read) transfer per
// connection at a time — Data frames carry no command-correlation
// field, so the handler routes every inbound Data frame to whichever
// Write transfer it currently has open (see DESIGN.md).
package command

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/rft-go/rft/internal/protocol"
	"github.com/rft-go/rft/internal/rfterr"
	"github.com/rft-go/rft/internal/rftio"
	"github.com/rft-go/rft/internal/transfer"
	"github.com/rft-go/rft/internal/wire"
)

// ErrNoActiveReceive is returned by AcceptData when a Data frame
// arrives with no open Write transfer to route it to.
var ErrNoActiveReceive = errors.New("command: no active receive transfer")

// ErrTransferInProgress is returned by Handle when a Read or Write
// command arrives while one of that same direction is already open.
var ErrTransferInProgress = errors.New("command: a transfer of that direction is already open")

// Handler executes commands against fs on behalf of one connection.
type Handler struct {
	fs rftio.FileSystem

	send        *transfer.Send
	sendPath    string
	sendFrameID protocol.FrameID

	recv        *transfer.Receive
	recvPath    string
	recvFrameID protocol.FrameID
}

// NewHandler returns a Handler backed by fs.
func NewHandler(fs rftio.FileSystem) *Handler {
	return &Handler{fs: fs}
}

// Handle executes cmd. For List/Delete/Stat/Exit it returns the
// completed Answer payload immediately. For Read and Write it either
// fails immediately (answer non-nil, deferred false) or opens the
// transfer and returns deferred=true: the caller must drive the
// transfer (NextSendChunk / AcceptData below) and send the eventual
// Answer(Read)/Answer(Write) itself once the transfer finishes
// (spec.md §4.5: "Answer(Read)"/"Answer(Write)" only go out once the
// data has actually moved, not on command receipt).
func (h *Handler) Handle(cmd *wire.CommandFrame) (answer wire.AnswerPayload, deferred bool) {
	switch p := cmd.Payload.(type) {
	case wire.ReadCmdPayload:
		return h.handleRead(cmd.FrameID, p)
	case wire.WriteCmdPayload:
		return h.handleWrite(cmd.FrameID, p)
	case wire.PathPayload:
		switch p.Type() {
		case wire.CommandList:
			return h.handleList(p.Path), false
		case wire.CommandDelete:
			return h.handleDelete(p.Path), false
		case wire.CommandStat:
			return h.handleStat(p.Path), false
		}
	case wire.EmptyPayload:
		return wire.NewStatusAnswerPayload(wire.CommandExit, uint8(rfterr.NoError), ""), false
	}
	return wire.NewStatusAnswerPayload(cmd.CommandType, uint8(rfterr.UnknownCommand), "unrecognized command payload"), false
}

func (h *Handler) handleRead(frameID protocol.FrameID, p wire.ReadCmdPayload) (wire.AnswerPayload, bool) {
	if h.send != nil {
		return wire.NewStatusAnswerPayload(wire.CommandRead, uint8(rfterr.BadRequest), ErrTransferInProgress.Error()), false
	}
	info, err := h.fs.Stat(p.Path)
	if err != nil {
		return wire.NewStatusAnswerPayload(wire.CommandRead, uint8(codeForErr(err)), err.Error()), false
	}
	length := p.Length
	if length == 0 {
		if uint64(info.Size) < p.Offset {
			length = 0
		} else {
			length = uint64(info.Size) - p.Offset
		}
	}
	if p.CRC32 != 0 {
		digest, err := transfer.RangeCRC(h.fs, p.Path, p.Offset, length)
		if err != nil {
			return wire.NewStatusAnswerPayload(wire.CommandRead, uint8(codeForErr(err)), err.Error()), false
		}
		if digest != p.CRC32 {
			return wire.NewStatusAnswerPayload(wire.CommandRead, uint8(rfterr.ChecksumChanged), "file changed since expected_crc was computed"), false
		}
	}
	h.send = transfer.NewSend(h.fs, p.Path, p.Offset, length)
	h.sendPath = p.Path
	h.sendFrameID = frameID
	return nil, true
}

func (h *Handler) handleWrite(frameID protocol.FrameID, p wire.WriteCmdPayload) (wire.AnswerPayload, bool) {
	if h.recv != nil {
		return wire.NewStatusAnswerPayload(wire.CommandWrite, uint8(rfterr.BadRequest), ErrTransferInProgress.Error()), false
	}
	r, err := transfer.NewReceive(h.fs, p.Path, p.Offset, p.Length, p.CRC32)
	if err != nil {
		return wire.NewStatusAnswerPayload(wire.CommandWrite, uint8(codeForErr(err)), err.Error()), false
	}
	h.recv = r
	h.recvPath = p.Path
	h.recvFrameID = frameID
	return nil, true
}

func (h *Handler) handleList(dir string) wire.AnswerPayload {
	entries, err := h.fs.List(dir)
	if err != nil {
		return wire.NewStatusAnswerPayload(wire.CommandList, uint8(codeForErr(err)), err.Error())
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		dirFlag := "0"
		if e.IsDir {
			dirFlag = "1"
		}
		lines = append(lines, strings.Join([]string{
			e.Name,
			strconv.FormatInt(e.Size, 10),
			strconv.FormatInt(e.ModTime.Unix(), 10),
			dirFlag,
		}, "\t"))
	}
	return wire.ListAnswerPayload{Entries: strings.Join(lines, "\n")}
}

func (h *Handler) handleDelete(path string) wire.AnswerPayload {
	if err := h.fs.Delete(path); err != nil {
		return wire.NewStatusAnswerPayload(wire.CommandDelete, uint8(codeForErr(err)), err.Error())
	}
	return wire.NewStatusAnswerPayload(wire.CommandDelete, uint8(rfterr.NoError), "")
}

func (h *Handler) handleStat(path string) wire.AnswerPayload {
	info, err := h.fs.Stat(path)
	if err != nil {
		return wire.NewStatusAnswerPayload(wire.CommandStat, uint8(codeForErr(err)), err.Error())
	}
	dirFlag := "0"
	digest := ""
	if info.IsDir {
		dirFlag = "1"
	} else if d, err := transfer.Blake3Digest(h.fs, path, info.Size); err == nil {
		digest = d
	}
	detail := strings.Join([]string{
		strconv.FormatInt(info.Size, 10),
		strconv.FormatInt(info.ModTime.Unix(), 10),
		dirFlag,
		digest,
	}, "\t")
	return wire.NewStatusAnswerPayload(wire.CommandStat, uint8(rfterr.NoError), detail)
}

// HasActiveSend reports whether a Read transfer is open.
func (h *Handler) HasActiveSend() bool { return h.send != nil }

// SendFrameID is the original Command frame ID the eventual
// Answer(Read) must echo. Valid once HasActiveSend was last true.
func (h *Handler) SendFrameID() protocol.FrameID { return h.sendFrameID }

// NextSendChunk pulls the next outbound Data frame payload from the
// active Read transfer. done reports whether this was the last chunk;
// the handler clears its send state once done (the caller is
// responsible for sending Answer(Read), using SendFrameID, at that
// point).
func (h *Handler) NextSendChunk(maxLen uint64) (offset uint64, payload []byte, done bool, err error) {
	if h.send == nil {
		return 0, nil, true, fmt.Errorf("command: no active send transfer")
	}
	offset, payload, err = h.send.NextChunk(protocol.ByteCount(maxLen))
	if err != nil {
		h.send = nil
		return 0, nil, true, err
	}
	done = h.send.Done()
	if done {
		h.send = nil
	}
	return offset, payload, done, nil
}

// HasActiveReceive reports whether a Write transfer is open.
func (h *Handler) HasActiveReceive() bool { return h.recv != nil }

// RecvFrameID is the original Command frame ID the eventual
// Answer(Write) must echo. Valid once HasActiveReceive was last true.
func (h *Handler) RecvFrameID() protocol.FrameID { return h.recvFrameID }

// AcceptData routes an inbound Data frame to the active Write
// transfer. completed reports whether this frame finished the
// transfer, in which case the caller replies to the Write command:
// Answer(Write) if err is nil, a command-scoped Error frame otherwise
// (a CRC mismatch completes the transfer but still fails the command).
func (h *Handler) AcceptData(offset uint64, payload []byte) (completed bool, err error) {
	if h.recv == nil {
		return false, ErrNoActiveReceive
	}
	if err := h.recv.Accept(offset, payload); err != nil {
		return false, err
	}
	if h.recv.IsComplete() {
		err := h.recv.VerifyCRC()
		h.recv = nil
		return true, err
	}
	return false, nil
}

func codeForErr(err error) rfterr.Code {
	switch {
	case errors.Is(err, rftio.ErrPathEscapesRoot):
		return rfterr.PermissionDenied
	case errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist):
		return rfterr.NotFound
	case errors.Is(err, fs.ErrPermission) || errors.Is(err, os.ErrPermission):
		return rfterr.PermissionDenied
	default:
		var te *rfterr.TransportError
		if errors.As(err, &te) {
			return te.Code
		}
		return rfterr.IOError
	}
}
