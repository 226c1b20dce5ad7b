// Package flowcontrol implements RFT's peer-advertised receive window
// and local advertised window bookkeeping (spec.md §4.3), in the
// shape of the teacher's internal/flowcontrol baseFlowController, but
// without QUIC's per-stream/per-connection split: RFT flow control is
// purely per-connection.
package flowcontrol

import (
	"sync"

	"github.com/rft-go/rft/internal/protocol"
)

// Controller tracks both directions of flow control for one
// connection: the window our peer has advertised to us (which bounds
// our sends), and the window we advertise to our peer (which reflects
// our own free receive-buffer capacity).
type Controller struct {
	mu sync.Mutex

	peerWindow   protocol.ByteCount
	zeroObserved int

	receiveBufferCapacity protocol.ByteCount
	bytesBuffered         protocol.ByteCount
}

// NewController creates a Controller whose local receive buffer can
// hold capacity bytes before it must advertise a reduced window.
func NewController(capacity protocol.ByteCount) *Controller {
	return &Controller{receiveBufferCapacity: capacity}
}

// OnPeerFlow records a Flow frame from the peer (spec.md §4.3: "the
// peer advertises a receive window via Flow frames (bytes)"). It
// returns the number of consecutive zero-window observations so far;
// the caller tears the connection down once this reaches
// protocol.MaxZeroWindowObservations (spec.md §3). A non-zero window
// resets the counter.
func (c *Controller) OnPeerFlow(window protocol.ByteCount) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.peerWindow = window
	if window == 0 {
		c.zeroObserved++
	} else {
		c.zeroObserved = 0
	}
	return c.zeroObserved
}

// SendWindow is the peer's total advertised receive window (spec.md
// §4.3: "our outbound byte budget never exceeds (peer_window -
// bytes_in_flight)"). The in-flight subtraction happens in the caller
// (congestion.SendQuota, driven by ackhandler.SendLog.BytesInFlight,
// the frames actually outstanding right now), not here: tracking
// "bytes sent" as a lifetime counter would only ever grow, permanently
// collapsing the window to zero once the peer's advertised size bytes
// had gone out even once.
func (c *Controller) SendWindow() protocol.ByteCount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerWindow
}

// IsPeerWindowZero reports whether the peer's latest advertised window
// is zero, which gates data frames (other frame types still flow)
// and starts the zero-window probe timer (spec.md §4.3).
func (c *Controller) IsPeerWindowZero() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerWindow == 0
}

// AddBytesBuffered records bytes placed in the local receive buffer
// (not yet delivered to the application / transfer coordinator).
func (c *Controller) AddBytesBuffered(n protocol.ByteCount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesBuffered += n
}

// ReleaseBytes records bytes removed from the local receive buffer
// (delivered and consumed), freeing capacity to advertise.
func (c *Controller) ReleaseBytes(n protocol.ByteCount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.bytesBuffered {
		n = c.bytesBuffered
	}
	c.bytesBuffered -= n
}

// AdvertisedWindow is the window we should advertise to our peer in
// the next Flow frame: it must reflect actually free buffer capacity
// at the instant of sending (spec.md §3's invariant).
func (c *Controller) AdvertisedWindow() protocol.ByteCount {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bytesBuffered >= c.receiveBufferCapacity {
		return 0
	}
	return c.receiveBufferCapacity - c.bytesBuffered
}
