package wire

// RawFrame wraps a frame's already-encoded bytes (type byte included)
// so the reliability engine can resend exactly what it first sent
// without redecoding it (spec.md §4.2: "retransmits do not re-number
// the frame" — they don't re-encode it either).
type RawFrame struct {
	Bytes []byte
}

func (f RawFrame) Type() FrameType { return FrameType(f.Bytes[0]) }
func (f RawFrame) EncodedLen() int  { return len(f.Bytes) }
func (f RawFrame) AppendTo(b []byte) []byte { return append(b, f.Bytes...) }
