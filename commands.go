package rft

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rft-go/rft/internal/wire"
)

// Stat describes one file or directory entry (spec.md §4.5's Stat and
// List answers). It's the public counterpart of internal/rftio.Info,
// re-expressed here since internal/wire's answer payloads can't cross
// the module boundary.
type Stat struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	// Blake3 is a whole-file BLAKE3 digest, hex-encoded (SPEC_FULL.md
	// §4.8's integrity check beyond the wire's mandatory CRC-32).
	// Empty for directories.
	Blake3 string
}

// DirEntry is one line of a List answer.
type DirEntry = Stat

// Read requests the bytes of remotePath in [offset, offset+length)
// (length 0 means "to EOF") and writes them to localPath via the
// connection's local filesystem, optionally verifying expectedCRC
// before the server streams anything (spec.md §4.5, "Read"; a zero
// expectedCRC skips the check).
//
// A zero length is resolved against the remote file's actual size with
// a Stat call first: the local receive side has to preallocate and
// know when it has everything before the first Data frame arrives, and
// the wire Answer(Read) carries no length field to learn it from
// after the fact.
func (c *Connection) Read(ctx context.Context, remotePath, localPath string, offset, length uint64, expectedCRC uint32) error {
	if length == 0 {
		st, err := c.Stat(ctx, remotePath)
		if err != nil {
			return err
		}
		if uint64(st.Size) <= offset {
			return nil
		}
		length = uint64(st.Size) - offset
	}
	payload := wire.ReadCmdPayload{Offset: offset, Length: length, CRC32: expectedCRC, Path: remotePath}
	ans, err := c.doCommand(ctx, wire.CommandRead, payload, localPath, expectedCRC)
	if err != nil {
		return err
	}
	return statusErr(ans)
}

// Write sends the bytes of localPath to remotePath starting at offset
// (spec.md §4.5, "Write").
func (c *Connection) Write(ctx context.Context, localPath, remotePath string, offset uint64, length uint64, crc uint32) error {
	payload := wire.WriteCmdPayload{Offset: offset, Length: length, CRC32: crc, Path: remotePath}
	ans, err := c.doCommand(ctx, wire.CommandWrite, payload, localPath, 0)
	if err != nil {
		return err
	}
	return statusErr(ans)
}

// List returns the entries of a remote directory (spec.md §4.5, "List").
func (c *Connection) List(ctx context.Context, dir string) ([]DirEntry, error) {
	ans, err := c.doCommand(ctx, wire.CommandList, wire.NewPathPayload(wire.CommandList, dir), "", 0)
	if err != nil {
		return nil, err
	}
	lst, ok := ans.(wire.ListAnswerPayload)
	if !ok {
		return nil, statusErr(ans)
	}
	if lst.Entries == "" {
		return nil, nil
	}
	lines := strings.Split(lst.Entries, "\n")
	out := make([]DirEntry, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		size, _ := strconv.ParseInt(fields[1], 10, 64)
		unixTime, _ := strconv.ParseInt(fields[2], 10, 64)
		out = append(out, DirEntry{
			Name:    fields[0],
			Size:    size,
			ModTime: time.Unix(unixTime, 0),
			IsDir:   fields[3] == "1",
		})
	}
	return out, nil
}

// Delete removes a remote file (spec.md §4.5, "Delete").
func (c *Connection) Delete(ctx context.Context, path string) error {
	ans, err := c.doCommand(ctx, wire.CommandDelete, wire.NewPathPayload(wire.CommandDelete, path), "", 0)
	if err != nil {
		return err
	}
	return statusErr(ans)
}

// Stat reports metadata for a remote path (spec.md §4.5, "Stat").
func (c *Connection) Stat(ctx context.Context, path string) (Stat, error) {
	ans, err := c.doCommand(ctx, wire.CommandStat, wire.NewPathPayload(wire.CommandStat, path), "", 0)
	if err != nil {
		return Stat{}, err
	}
	status, ok := ans.(wire.StatusAnswerPayload)
	if !ok {
		return Stat{}, fmt.Errorf("rft: unexpected answer shape for Stat")
	}
	if err := statusErr(ans); err != nil {
		return Stat{}, err
	}
	fields := strings.Split(status.Detail, "\t")
	if len(fields) < 3 {
		return Stat{}, fmt.Errorf("rft: malformed stat detail %q", status.Detail)
	}
	size, _ := strconv.ParseInt(fields[0], 10, 64)
	unixTime, _ := strconv.ParseInt(fields[1], 10, 64)
	st := Stat{
		Name:    path,
		Size:    size,
		ModTime: time.Unix(unixTime, 0),
		IsDir:   fields[2] == "1",
	}
	if len(fields) >= 4 {
		st.Blake3 = fields[3]
	}
	return st, nil
}

// Exit asks the server to end the connection gracefully (spec.md
// §4.5, "Exit"): the server answers, then both sides drain and close.
func (c *Connection) Exit(ctx context.Context) error {
	ans, err := c.doCommand(ctx, wire.CommandExit, wire.EmptyPayload{}, "", 0)
	if err != nil {
		return err
	}
	return statusErr(ans)
}

func statusErr(ans wire.AnswerPayload) error {
	status, ok := ans.(wire.StatusAnswerPayload)
	if !ok {
		return nil
	}
	if status.Status == uint8(ErrorCodeNone) {
		return nil
	}
	return &TransportError{Code: ErrorCode(status.Status), Message: status.Detail}
}
