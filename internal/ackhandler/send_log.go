// Package ackhandler is RFT's reliability engine (spec.md §4.2): it
// assigns outbound frame IDs, tracks in-flight frames, schedules
// retransmissions, interprets cumulative and duplicate acks, and
// performs fast retransmit. It mirrors the shape of the teacher's
// internal/ackhandler sentPacketHandler / receivedPacketHandler pair,
// simplified to RFT's cumulative-ack-only model (no SACK ranges).
package ackhandler

import (
	"sync"
	"time"

	"github.com/rft-go/rft/internal/protocol"
)

// SentFrame is one outbound frame tracked by the send log.
type SentFrame struct {
	ID              protocol.FrameID
	Encoded         []byte
	Length          protocol.ByteCount
	SentAt          time.Time
	RetransmitCount int
	InFlight        bool
}

// SendLog is the per-connection, per-direction outbound tracking
// structure described in spec.md §4.2: "a send log indexed by
// outbound frame ID, each entry carrying the encoded frame, send
// time, retransmit count, and an in-flight flag".
type SendLog struct {
	mu sync.Mutex

	entries []*SentFrame // ordered by increasing ID; front is oldest
	nextID  protocol.FrameID

	bytesInFlight protocol.ByteCount

	// Duplicate-ack tracking for fast retransmit (spec.md §4.2): three
	// duplicate acks for the same frame ID trigger a fast retransmit
	// of the next un-acked frame.
	lastDupAckID protocol.FrameID
	dupAckCount  int
}

// NewSendLog creates a SendLog whose first submitted frame gets ID 1
// (spec.md §3: "next outbound frame ID, counter starting at 1").
func NewSendLog() *SendLog {
	return &SendLog{nextID: protocol.InvalidFrameID}
}

// Submit assigns the frame a fresh monotonic ID and appends it to the
// send log, not yet marked in flight (spec.md §4.2: "submit(frame)
// appends to the send log with a fresh monotonic ID").
func (l *SendLog) Submit(encoded []byte, length protocol.ByteCount) protocol.FrameID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID = l.nextID.Next()
	l.entries = append(l.entries, &SentFrame{
		ID:     l.nextID,
		Encoded: encoded,
		Length: length,
	})
	return l.nextID
}

// ReserveID advances and returns the next outbound frame ID, without
// yet recording a send-log entry. Callers that need the ID embedded in
// a frame before it can be encoded (every frame type but Ack and Flow
// carries its own frame_id) call ReserveID first, build the frame, then
// Track it.
func (l *SendLog) ReserveID() protocol.FrameID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID = l.nextID.Next()
	return l.nextID
}

// Track records a send-log entry for a frame whose ID was already
// obtained from ReserveID.
func (l *SendLog) Track(id protocol.FrameID, encoded []byte, length protocol.ByteCount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, &SentFrame{ID: id, Encoded: encoded, Length: length})
}

// MarkSent records the send timestamp and adds the frame's length to
// bytes-in-flight (spec.md §4.2: "on send it records the timestamp").
func (l *SendLog) MarkSent(id protocol.FrameID, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.find(id)
	if e == nil {
		return
	}
	if !e.InFlight {
		l.bytesInFlight += e.Length
	}
	e.InFlight = true
	e.SentAt = now
}

func (l *SendLog) find(id protocol.FrameID) *SentFrame {
	for _, e := range l.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// NextOutboundID returns the ID the next Submit call will assign,
// without consuming it.
func (l *SendLog) NextOutboundID() protocol.FrameID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextID.Next()
}

// BytesInFlight reports the sum of Length over every in-flight,
// unacked entry.
func (l *SendLog) BytesInFlight() protocol.ByteCount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytesInFlight
}

// AckResult is returned by OnAck.
type AckResult struct {
	// Acked lists the frames newly acknowledged by this ack.
	Acked []*SentFrame
	// Duplicate is true if this ack acknowledged nothing new.
	Duplicate bool
	// FastRetransmit is non-nil when three duplicate acks for the
	// same frame ID have now been observed; it names the oldest
	// still-unacked frame to resend immediately.
	FastRetransmit *SentFrame
}

// OnAck marks every send-log entry with ID <= ackID as acknowledged
// and removes it, advancing the cumulative ack cursor (spec.md §4.2).
// A duplicate ack (one that acknowledges nothing new) increments a
// counter; the third duplicate ack for the same ID triggers fast
// retransmit of the next un-acked frame.
func (l *SendLog) OnAck(ackID protocol.FrameID) AckResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	var acked []*SentFrame
	kept := l.entries[:0:0]
	for _, e := range l.entries {
		if e.ID.LessOrEqual(ackID) {
			acked = append(acked, e)
			if e.InFlight {
				l.bytesInFlight -= e.Length
			}
		} else {
			kept = append(kept, e)
		}
	}
	l.entries = kept

	if len(acked) == 0 {
		if l.lastDupAckID == ackID {
			l.dupAckCount++
		} else {
			l.lastDupAckID = ackID
			l.dupAckCount = 1
		}
		result := AckResult{Duplicate: true}
		if l.dupAckCount >= protocol.DupAckThreshold && len(l.entries) > 0 {
			result.FastRetransmit = l.entries[0]
			l.dupAckCount = 0
		}
		return result
	}

	l.lastDupAckID = protocol.InvalidFrameID
	l.dupAckCount = 0
	return AckResult{Acked: acked}
}

// Tick returns every in-flight entry whose retransmit timer has
// expired (spec.md §4.2: "a per-frame retransmit timer ... triggers
// resend; retransmits do not re-number the frame"), and bumps their
// retransmit count and send time so they aren't returned again until
// rto has elapsed once more.
func (l *SendLog) Tick(now time.Time, rto time.Duration) []*SentFrame {
	l.mu.Lock()
	defer l.mu.Unlock()

	var due []*SentFrame
	for _, e := range l.entries {
		if e.InFlight && now.Sub(e.SentAt) >= rto {
			e.RetransmitCount++
			e.SentAt = now
			due = append(due, e)
		}
	}
	return due
}

// Pending reports every entry still awaiting acknowledgement, oldest
// first.
func (l *SendLog) Pending() []*SentFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*SentFrame, len(l.entries))
	copy(out, l.entries)
	return out
}
