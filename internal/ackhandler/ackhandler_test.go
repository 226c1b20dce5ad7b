package ackhandler

import (
	"testing"
	"time"

	"github.com/rft-go/rft/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestSendLogCumulativeAck(t *testing.T) {
	log := NewSendLog()
	id1 := log.Submit([]byte("a"), 1)
	id2 := log.Submit([]byte("b"), 1)
	id3 := log.Submit([]byte("c"), 1)
	now := time.Now()
	log.MarkSent(id1, now)
	log.MarkSent(id2, now)
	log.MarkSent(id3, now)
	require.Equal(t, protocol.ByteCount(3), log.BytesInFlight())

	res := log.OnAck(id2)
	require.False(t, res.Duplicate)
	require.Len(t, res.Acked, 2)
	require.Equal(t, protocol.ByteCount(1), log.BytesInFlight())
	require.Len(t, log.Pending(), 1)
	require.Equal(t, id3, log.Pending()[0].ID)
}

func TestSendLogDuplicateAckNeverAdvancesPastK(t *testing.T) {
	log := NewSendLog()
	id1 := log.Submit(nil, 1)
	now := time.Now()
	log.MarkSent(id1, now)

	res := log.OnAck(id1)
	require.False(t, res.Duplicate)
	require.Equal(t, protocol.ByteCount(0), log.BytesInFlight())

	// A further ack for the same (already fully-acked) ID acknowledges
	// nothing new: it must be reported as a duplicate, not advance
	// anything further.
	dup := log.OnAck(id1)
	require.True(t, dup.Duplicate)
	require.Empty(t, dup.Acked)
}

func TestSendLogFastRetransmitAfterThreeDuplicateAcks(t *testing.T) {
	log := NewSendLog()
	id1 := log.Submit(nil, 1)
	id2 := log.Submit(nil, 1)
	now := time.Now()
	log.MarkSent(id1, now)
	log.MarkSent(id2, now)

	// id2 is missing; after the first (fresh) ack for id1, three
	// duplicate acks for id1 should trigger a fast retransmit of id2
	// (spec.md §4.2).
	log.OnAck(id1)
	var last AckResult
	for i := 0; i < 3; i++ {
		last = log.OnAck(id1)
	}
	require.NotNil(t, last.FastRetransmit)
	require.Equal(t, id2, last.FastRetransmit.ID)
}

func TestSendLogRetransmitTimer(t *testing.T) {
	log := NewSendLog()
	id1 := log.Submit(nil, 1)
	base := time.Now()
	log.MarkSent(id1, base)

	require.Empty(t, log.Tick(base.Add(1*time.Second), 5*time.Second))
	due := log.Tick(base.Add(6*time.Second), 5*time.Second)
	require.Len(t, due, 1)
	require.Equal(t, 1, due[0].RetransmitCount)

	// Retransmitting doesn't re-number the frame.
	require.Equal(t, id1, due[0].ID)
}

func TestRecvCursorInOrderDelivery(t *testing.T) {
	c := NewRecvCursor()
	d, ackDue := c.Accept(1, []byte("a"))
	require.True(t, ackDue)
	require.Equal(t, []Delivered{{ID: 1, Payload: []byte("a")}}, d)

	d, _ = c.Accept(2, []byte("b"))
	require.Equal(t, []Delivered{{ID: 2, Payload: []byte("b")}}, d)
	require.Equal(t, protocol.FrameID(2), c.CumulativeAck())
}

func TestRecvCursorGapThenFill(t *testing.T) {
	c := NewRecvCursor()
	c.Accept(1, []byte("a"))

	// Frame 3 arrives before frame 2: it's buffered, not delivered.
	d, ackDue := c.Accept(3, []byte("c"))
	require.Empty(t, d)
	require.True(t, ackDue)
	require.Equal(t, protocol.FrameID(1), c.CumulativeAck())

	// Frame 2 closes the gap: both 2 and 3 deliver in order.
	d, _ = c.Accept(2, []byte("b"))
	require.Equal(t, []Delivered{{ID: 2, Payload: []byte("b")}, {ID: 3, Payload: []byte("c")}}, d)
	require.Equal(t, protocol.FrameID(3), c.CumulativeAck())
}

func TestRecvCursorDuplicateDiscarded(t *testing.T) {
	c := NewRecvCursor()
	c.Accept(1, []byte("a"))
	d, ackDue := c.Accept(1, []byte("a"))
	require.Empty(t, d)
	require.True(t, ackDue)
}

func TestRecvCursorDuplicateOrGapForcesImmediateAck(t *testing.T) {
	c := NewRecvCursor()
	now := time.Now()
	c.Accept(1, []byte("a"))
	c.MarkAckSent(now)

	// A duplicate must be ack-due right away, not after the coalescing
	// window or frame count (spec.md §4.2's fast-retransmit path needs
	// 3 duplicate acks to arrive promptly, not batched).
	c.Accept(1, []byte("a"))
	require.True(t, c.AckIsDue(now))

	c.MarkAckSent(now)
	// Same for a gap: frame 3 arrives with 2 still missing.
	c.Accept(3, []byte("c"))
	require.True(t, c.AckIsDue(now))
}

func TestRecvCursorAckCoalescing(t *testing.T) {
	c := NewRecvCursor()
	now := time.Now()
	c.Accept(1, []byte("a"))
	require.False(t, c.AckIsDue(now)) // interval hasn't elapsed, < 8 frames
	require.True(t, c.AckIsDue(now.Add(41*time.Millisecond)))

	c.MarkAckSent(now)
	for i := protocol.FrameID(2); i <= 9; i++ {
		c.Accept(i, nil)
	}
	require.True(t, c.AckIsDue(now.Add(time.Millisecond)))
}
