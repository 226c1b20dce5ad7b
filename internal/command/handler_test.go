package command

import (
	"hash/crc32"
	"testing"

	"github.com/rft-go/rft/internal/protocol"
	"github.com/rft-go/rft/internal/rfterr"
	"github.com/rft-go/rft/internal/rftio"
	"github.com/rft-go/rft/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := rftio.NewRootedFS(dir)
	require.NoError(t, err)
	return NewHandler(fs), dir
}

func TestHandleReadStreamsWholeFile(t *testing.T) {
	h, dir := newTestHandler(t)
	require.NoError(t, h.fs.Preallocate("f.txt", 10))
	_, err := h.fs.WriteAt("f.txt", []byte("0123456789"), 0)
	require.NoError(t, err)
	_ = dir

	ans, deferred := h.Handle(&wire.CommandFrame{
		FrameID:     1,
		CommandType: wire.CommandRead,
		Payload:     wire.ReadCmdPayload{Offset: 0, Length: 0, Path: "f.txt"},
	})
	require.True(t, deferred)
	require.Nil(t, ans)
	require.True(t, h.HasActiveSend())
	require.Equal(t, protocol.FrameID(1), h.SendFrameID())

	off, payload, done, err := h.NextSendChunk(uint64(protocol.MaxSegmentSize))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)
	require.Equal(t, "0123456789", string(payload))
	require.True(t, done)
	require.False(t, h.HasActiveSend())
}

func TestHandleWriteThenAcceptData(t *testing.T) {
	h, _ := newTestHandler(t)
	content := []byte("abcdefghij")
	crc := crc32.ChecksumIEEE(content)

	ans, deferred := h.Handle(&wire.CommandFrame{
		FrameID:     2,
		CommandType: wire.CommandWrite,
		Payload:     wire.WriteCmdPayload{Offset: 0, Length: uint64(len(content)), CRC32: crc, Path: "g.txt"},
	})
	require.True(t, deferred)
	require.Nil(t, ans)
	require.True(t, h.HasActiveReceive())
	require.Equal(t, protocol.FrameID(2), h.RecvFrameID())

	completed, err := h.AcceptData(0, content)
	require.NoError(t, err)
	require.True(t, completed)
	require.False(t, h.HasActiveReceive())
}

func TestHandleWriteCRCMismatchStillCompletes(t *testing.T) {
	h, _ := newTestHandler(t)
	_, deferred := h.Handle(&wire.CommandFrame{
		FrameID:     20,
		CommandType: wire.CommandWrite,
		Payload:     wire.WriteCmdPayload{Offset: 0, Length: 5, CRC32: 0xDEADBEEF, Path: "h.txt"},
	})
	require.True(t, deferred)

	completed, err := h.AcceptData(0, []byte("abcde"))
	require.True(t, completed)
	require.Error(t, err)
	require.False(t, h.HasActiveReceive())
}

func TestHandleReadMissingFile(t *testing.T) {
	h, _ := newTestHandler(t)
	ans, deferred := h.Handle(&wire.CommandFrame{
		FrameID:     3,
		CommandType: wire.CommandRead,
		Payload:     wire.ReadCmdPayload{Path: "missing.txt"},
	})
	require.False(t, deferred)
	status := ans.(wire.StatusAnswerPayload)
	require.Equal(t, uint8(rfterr.NotFound), status.Status)
	require.False(t, h.HasActiveSend())
}

func TestHandleListDeleteStat(t *testing.T) {
	h, _ := newTestHandler(t)
	require.NoError(t, h.fs.Preallocate("a.txt", 3))

	listAns, deferred := h.Handle(&wire.CommandFrame{
		FrameID:     4,
		CommandType: wire.CommandList,
		Payload:     wire.NewPathPayload(wire.CommandList, "."),
	})
	require.False(t, deferred)
	lst, ok := listAns.(wire.ListAnswerPayload)
	require.True(t, ok)
	require.Contains(t, lst.Entries, "a.txt")

	statAns, _ := h.Handle(&wire.CommandFrame{
		FrameID:     5,
		CommandType: wire.CommandStat,
		Payload:     wire.NewPathPayload(wire.CommandStat, "a.txt"),
	})
	st := statAns.(wire.StatusAnswerPayload)
	require.Equal(t, uint8(rfterr.NoError), st.Status)

	delAns, _ := h.Handle(&wire.CommandFrame{
		FrameID:     6,
		CommandType: wire.CommandDelete,
		Payload:     wire.NewPathPayload(wire.CommandDelete, "a.txt"),
	})
	del := delAns.(wire.StatusAnswerPayload)
	require.Equal(t, uint8(rfterr.NoError), del.Status)

	statAns2, _ := h.Handle(&wire.CommandFrame{
		FrameID:     7,
		CommandType: wire.CommandStat,
		Payload:     wire.NewPathPayload(wire.CommandStat, "a.txt"),
	})
	st2 := statAns2.(wire.StatusAnswerPayload)
	require.Equal(t, uint8(rfterr.NotFound), st2.Status)
}

func TestHandleSecondReadWhileActiveIsRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	require.NoError(t, h.fs.Preallocate("f.txt", 4))

	_, deferred := h.Handle(&wire.CommandFrame{
		FrameID:     8,
		CommandType: wire.CommandRead,
		Payload:     wire.ReadCmdPayload{Path: "f.txt"},
	})
	require.True(t, deferred)

	second, deferred2 := h.Handle(&wire.CommandFrame{
		FrameID:     9,
		CommandType: wire.CommandRead,
		Payload:     wire.ReadCmdPayload{Path: "f.txt"},
	})
	require.False(t, deferred2)
	status := second.(wire.StatusAnswerPayload)
	require.Equal(t, uint8(rfterr.BadRequest), status.Status)
}
