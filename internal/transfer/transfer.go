// Package transfer implements the transfer coordinator (spec.md
// §4.6): it drives a single Read or Write command's byte movement,
// preallocating the destination, writing at arbitrary offsets,
// validating CRC, and reporting completion on the receiving side; on
// the sending side it chunks the source file into MSS-sized segments.
package transfer

import (
	"hash/crc32"

	"github.com/rft-go/rft/internal/protocol"
	"github.com/rft-go/rft/internal/rfterr"
	"github.com/rft-go/rft/internal/rftio"
)

// Receive drives the receiving side of one transfer (the server for a
// Write, the client for a Read): Data frames from the peer land at
// arbitrary offsets within [Base, Base+Total).
type Receive struct {
	fs          rftio.FileSystem
	path        string
	base        uint64
	total       uint64
	expectedCRC uint32

	covered rangeSet
}

// NewReceive preallocates path to Base+Total bytes and returns a
// Receive ready to accept Data frames (spec.md §4.6: "open file with
// pre-sized length").
func NewReceive(fs rftio.FileSystem, path string, base, total uint64, expectedCRC uint32) (*Receive, error) {
	if err := fs.Preallocate(path, int64(base+total)); err != nil {
		return nil, err
	}
	return &Receive{fs: fs, path: path, base: base, total: total, expectedCRC: expectedCRC}, nil
}

// Accept writes payload at offset, idempotently: writing the same
// range twice is a no-op on the file (WriteAt is naturally idempotent
// for identical bytes) and is only recorded once in the coverage set.
func (r *Receive) Accept(offset uint64, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if _, err := r.fs.WriteAt(r.path, payload, int64(offset)); err != nil {
		return err
	}
	r.covered.Add(offset, offset+uint64(len(payload)))
	return nil
}

// IsComplete reports whether every byte in [Base, Base+Total) has
// been written.
func (r *Receive) IsComplete() bool {
	return r.total == 0 || r.covered.Covers(r.base, r.base+r.total)
}

// VerifyCRC reads back [Base, Base+Total) and compares its CRC-32
// against ExpectedCRC. A zero ExpectedCRC means "no check requested"
// (spec.md §4.5: "if it mismatches expected_crc and expected_crc != 0").
func (r *Receive) VerifyCRC() error {
	if r.expectedCRC == 0 || r.total == 0 {
		return nil
	}
	buf := make([]byte, r.total)
	if _, err := r.fs.ReadAt(r.path, buf, int64(r.base)); err != nil {
		return err
	}
	if crc32.ChecksumIEEE(buf) != r.expectedCRC {
		return rfterr.New(rfterr.ChecksumChanged, "written data does not match expected CRC")
	}
	return nil
}

// Send drives the read side of one transfer: chunking a file region
// into MSS-sized Data frame payloads, in order, starting at Base
// (spec.md §4.6: "chunk the source file into MSS-sized Data frames
// starting at the requested offset").
type Send struct {
	fs     rftio.FileSystem
	path   string
	offset uint64
	end    uint64
}

// NewSend creates a Send that will emit chunks covering [base, base+length).
func NewSend(fs rftio.FileSystem, path string, base, length uint64) *Send {
	return &Send{fs: fs, path: path, offset: base, end: base + length}
}

// Done reports whether every byte has been chunked out already.
func (s *Send) Done() bool { return s.offset >= s.end }

// NextChunk reads up to maxLen bytes (capped by protocol.MaxSegmentSize
// at the call site) starting at the current cursor, advances the
// cursor, and returns the absolute file offset and payload.
func (s *Send) NextChunk(maxLen protocol.ByteCount) (offset uint64, payload []byte, err error) {
	remaining := s.end - s.offset
	n := uint64(maxLen)
	if n > remaining {
		n = remaining
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := s.fs.ReadAt(s.path, buf, int64(s.offset)); err != nil {
			return 0, nil, err
		}
	}
	offset = s.offset
	s.offset += n
	return offset, buf, nil
}

// Remaining is the number of bytes left to chunk out.
func (s *Send) Remaining() protocol.ByteCount {
	return protocol.ByteCount(s.end - s.offset)
}

// RangeCRC computes the CRC-32 of [offset, offset+length) of path, for
// the Read command's pre-send verification against the client's
// expected_crc (spec.md §4.5: "if it mismatches expected_crc ...
// replies with Error(code=ChecksumChanged)").
func RangeCRC(fs rftio.FileSystem, path string, offset, length uint64) (uint32, error) {
	if length == 0 {
		return crc32.ChecksumIEEE(nil), nil
	}
	buf := make([]byte, length)
	if _, err := fs.ReadAt(path, buf, int64(offset)); err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(buf), nil
}
