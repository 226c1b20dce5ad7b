package protocol

// FrameID is a connection-local, per-direction outbound frame number.
// It starts at 1 and wraps modulo 2^32 (spec.md §3, "Invariants").
// Comparisons use serial-number arithmetic (RFC 1982) so wrap-around
// doesn't break ordering once a connection has sent more than 2^31
// frames, mirroring how the teacher's internal/protocol compares
// packet numbers.
type FrameID uint32

// InvalidFrameID marks "no frame yet", analogous to the teacher's
// protocol.InvalidPacketNumber.
const InvalidFrameID FrameID = 0

// Next returns the next frame ID after f, wrapping past the zero value
// (0 is reserved as InvalidFrameID).
func (f FrameID) Next() FrameID {
	n := f + 1
	if n == InvalidFrameID {
		n++
	}
	return n
}

// LessThan reports whether f precedes o in serial-number order.
func (f FrameID) LessThan(o FrameID) bool {
	return int32(f-o) < 0
}

// LessOrEqual reports whether f precedes or equals o in serial-number order.
func (f FrameID) LessOrEqual(o FrameID) bool {
	return f == o || f.LessThan(o)
}
