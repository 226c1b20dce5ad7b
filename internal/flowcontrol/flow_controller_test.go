package flowcontrol

import (
	"testing"
	"time"

	"github.com/rft-go/rft/internal/ackhandler"
	"github.com/rft-go/rft/internal/congestion"
	"github.com/rft-go/rft/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestControllerSendWindow(t *testing.T) {
	c := NewController(4096)
	c.OnPeerFlow(1000)
	require.Equal(t, protocol.ByteCount(1000), c.SendWindow())

	// SendWindow tracks the peer's latest advertised window only: it
	// never shrinks on its own as data goes out, since bytes-in-flight
	// accounting belongs to ackhandler.SendLog, not here (a transfer
	// longer than one window's worth of data must be able to keep
	// sending once earlier frames are acked).
	c.OnPeerFlow(1000)
	require.Equal(t, protocol.ByteCount(1000), c.SendWindow())

	// A fresh Flow frame replaces the window outright, shrinking or
	// growing it as the peer's free buffer capacity changes.
	c.OnPeerFlow(2000)
	require.Equal(t, protocol.ByteCount(2000), c.SendWindow())
}

// TestSendQuotaFreesUpAsFramesAreAcked drives a full send/ack cycle
// across flowcontrol, ackhandler and congestion together: a transfer
// much larger than one peer window must still make progress, because
// the send budget is gated on bytes actually in flight rather than on
// any lifetime total (the defect this trio of packages previously had
// when flowcontrol tracked its own ever-growing "bytes sent" counter).
func TestSendQuotaFreesUpAsFramesAreAcked(t *testing.T) {
	flow := NewController(4096)
	flow.OnPeerFlow(1000)
	log := ackhandler.NewSendLog()
	cong := congestion.NewSender(protocol.MaxSegmentSize)

	quota := func() protocol.ByteCount {
		return congestion.SendQuota(flow.SendWindow(), cong.CongestionWindow(), log.BytesInFlight())
	}

	require.Equal(t, protocol.ByteCount(1000), quota())

	id := log.Submit(make([]byte, 1000), 1000)
	log.MarkSent(id, time.Now())
	require.Equal(t, protocol.ByteCount(0), quota(), "the whole peer window is now in flight")

	log.OnAck(id)
	require.Equal(t, protocol.ByteCount(1000), quota(), "acking the frame frees the window back up")

	// The peer re-advertising a larger window raises the budget too.
	flow.OnPeerFlow(2000)
	require.Equal(t, protocol.ByteCount(2000), quota())
}

func TestControllerZeroWindowTermination(t *testing.T) {
	c := NewController(4096)
	for i := 1; i < protocol.MaxZeroWindowObservations; i++ {
		n := c.OnPeerFlow(0)
		require.Equal(t, i, n)
	}
	n := c.OnPeerFlow(0)
	require.Equal(t, protocol.MaxZeroWindowObservations, n)
	require.True(t, c.IsPeerWindowZero())

	// A single non-zero Flow frame resets the counter (spec.md §8).
	n = c.OnPeerFlow(10)
	require.Equal(t, 0, n)
	require.False(t, c.IsPeerWindowZero())
}

func TestControllerAdvertisedWindowReflectsFreeCapacity(t *testing.T) {
	c := NewController(1000)
	require.Equal(t, protocol.ByteCount(1000), c.AdvertisedWindow())

	c.AddBytesBuffered(700)
	require.Equal(t, protocol.ByteCount(300), c.AdvertisedWindow())

	c.ReleaseBytes(700)
	require.Equal(t, protocol.ByteCount(1000), c.AdvertisedWindow())

	c.AddBytesBuffered(2000)
	require.Equal(t, protocol.ByteCount(0), c.AdvertisedWindow())
}
