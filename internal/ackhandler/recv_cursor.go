package ackhandler

import (
	"time"

	"github.com/rft-go/rft/internal/protocol"
)

// Delivered is one frame handed upward to the command layer, in
// delivery (not necessarily arrival) order.
type Delivered struct {
	ID      protocol.FrameID
	Payload []byte
}

// RecvCursor is the receive-side half of the reliability engine
// (spec.md §4.2): "a receive cursor holding the highest contiguous
// inbound frame ID accepted", plus a bounded out-of-order buffer for
// frames that arrive ahead of a gap.
type RecvCursor struct {
	cursor protocol.FrameID // highest contiguous ID delivered

	buffered map[protocol.FrameID][]byte

	framesSinceAck int
	ackDue         bool
	forceAckNow    bool // set by a duplicate or gap, bypasses coalescing
	lastAckSentAt  time.Time
}

// NewRecvCursor creates a cursor with nothing yet delivered. The
// coalescing interval for the first Ack is measured from its creation.
func NewRecvCursor() *RecvCursor {
	return &RecvCursor{buffered: make(map[protocol.FrameID][]byte), lastAckSentAt: time.Now()}
}

// Accept processes one inbound frame. It returns every frame now
// deliverable in order (the frame just accepted, plus any buffered
// frames whose gap it closed), and whether an Ack is now due.
//
// Frames with ID == cursor+1 are delivered and advance the cursor.
// Frames with ID <= cursor are duplicates: re-emit the cumulative Ack,
// discard the payload. Frames with ID > cursor+1 are gaps: re-emit
// the cumulative Ack (signalling loss) and buffer up to
// protocol.ReorderBufferFrames frames (spec.md §4.2, §9).
//
// A duplicate or gap forces its Ack out immediately, bypassing the
// coalescing window below: those are exactly the acks 3-duplicate
// fast retransmit counts on the sender side, so delaying them by a
// coalescing interval would delay loss recovery by the same amount.
func (c *RecvCursor) Accept(id protocol.FrameID, payload []byte) (delivered []Delivered, ackDue bool) {
	next := c.cursor.Next()

	switch {
	case id == next:
		c.cursor = id
		delivered = append(delivered, Delivered{ID: id, Payload: payload})
		c.framesSinceAck++
		for {
			n := c.cursor.Next()
			buf, ok := c.buffered[n]
			if !ok {
				break
			}
			delete(c.buffered, n)
			c.cursor = n
			delivered = append(delivered, Delivered{ID: n, Payload: buf})
			c.framesSinceAck++
		}
		c.ackDue = true

	case id.LessOrEqual(c.cursor) && c.cursor != protocol.InvalidFrameID:
		// Duplicate: the ID has already been delivered.
		c.ackDue = true
		c.forceAckNow = true

	default:
		// Gap: buffer it, bounded, and signal loss via a duplicate ack.
		if len(c.buffered) < protocol.ReorderBufferFrames {
			c.buffered[id] = payload
		}
		c.ackDue = true
		c.forceAckNow = true
	}

	return delivered, c.ackDue
}

// CumulativeAck is the frame ID an Ack frame should currently carry.
func (c *RecvCursor) CumulativeAck() protocol.FrameID { return c.cursor }

// AckIsDue reports whether the coalescing policy (spec.md §4.2: "defer
// one Ack per ~40ms or until the receive cursor has advanced by N>=8
// frames, whichever comes first") requires an Ack to go out now.
func (c *RecvCursor) AckIsDue(now time.Time) bool {
	if !c.ackDue {
		return false
	}
	if c.forceAckNow {
		return true
	}
	if c.framesSinceAck >= protocol.AckCoalesceFrames {
		return true
	}
	return now.Sub(c.lastAckSentAt) >= protocol.AckCoalesceInterval
}

// MarkAckSent resets the coalescing counters after an Ack frame has
// actually been emitted.
func (c *RecvCursor) MarkAckSent(now time.Time) {
	c.ackDue = false
	c.forceAckNow = false
	c.framesSinceAck = 0
	c.lastAckSentAt = now
}
