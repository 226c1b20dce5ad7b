// Package protocol collects the small value types shared across RFT's
// wire, reliability, flow-control and connection packages.
package protocol

import "time"

// ByteCount counts bytes. It's used throughout the flow and congestion
// controllers so call sites read as "bytes", not "some int".
type ByteCount uint64

// ConnectionID identifies a connection. CID 0 is reserved for the
// pre-handshake hello (see ConnectionID.IsHello).
type ConnectionID uint32

// IsHello reports whether this is the reserved pre-handshake CID.
func (c ConnectionID) IsHello() bool { return c == 0 }

// Version is the 4-bit protocol version carried in every packet header.
type Version uint8

// Version1 is the only version this draft implementation speaks.
const Version1 Version = 1

const (
	// MaxUDPPayloadSize is the default outer datagram payload budget
	// data frames are sized against (a default UDP payload cap of
	// 1200 bytes, matched to the teacher's protocol.DefaultTCPMSS-style
	// constant).
	MaxUDPPayloadSize ByteCount = 1200

	// HeaderSize is the fixed, bit-packed packet header: 4-bit version,
	// 20-bit CRC, 8-bit frame count, 32-bit connection ID.
	HeaderSize ByteCount = 8

	// DataFrameOverhead is type(1) + frame id(4) + offset(6) + length(6).
	DataFrameOverhead ByteCount = 17

	// MaxSegmentSize is the maximum payload carried by one Data frame.
	MaxSegmentSize = MaxUDPPayloadSize - HeaderSize - DataFrameOverhead

	// MaxFramesPerPacket is the width of the 8-bit frame-count field.
	MaxFramesPerPacket = 255
)

// Default timeouts, named after spec.md §5.
const (
	HandshakeTimeout        = 5 * time.Second
	RetransmitTimeout       = 5 * time.Second
	IdleTimeout             = 30 * time.Second
	ZeroWindowProbeInterval = 1 * time.Second
	DrainTimeout            = 10 * time.Second

	// MaxZeroWindowObservations is the number of consecutive zero
	// Flow-window advertisements that force connection termination.
	MaxZeroWindowObservations = 5

	// DupAckThreshold is the number of duplicate acks for the same
	// frame ID that trigger a fast retransmit.
	DupAckThreshold = 3

	// AckCoalesceInterval and AckCoalesceFrames bound how long the
	// reliability engine may defer a due Ack.
	AckCoalesceInterval = 40 * time.Millisecond
	AckCoalesceFrames   = 8

	// ReorderBufferFrames bounds the receive-side out-of-order buffer.
	ReorderBufferFrames = 256
)

// Perspective distinguishes which end of a connection this process is
// acting as; several behaviors (who allocates the CID, who runs the
// command handler) differ by side.
type Perspective uint8

const (
	PerspectiveClient Perspective = iota
	PerspectiveServer
)

func (p Perspective) String() string {
	if p == PerspectiveServer {
		return "server"
	}
	return "client"
}

// InitialCongestionWindowMSS and MinCongestionWindowMSS are expressed
// in MSS units, matching the teacher's cubicSender convention of
// tracking cwnd in packets and converting to bytes on read.
const (
	InitialCongestionWindowMSS = 4
	MinCongestionWindowMSS     = 1
)
