package congestion

import (
	"testing"
	"time"

	"github.com/rft-go/rft/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestSenderSlowStartDoublesPerRTT(t *testing.T) {
	s := NewSender(1000)
	initial := s.CongestionWindow()
	require.Equal(t, protocol.ByteCount(4000), initial)
	require.True(t, s.InSlowStart())

	base := time.Now()
	s.OnAcked(base, 100*time.Millisecond) // opens the first growth window, no growth yet
	require.Equal(t, initial, s.CongestionWindow())

	// Further acks inside the same RTT must not grow the window again.
	s.OnAcked(base.Add(50*time.Millisecond), 100*time.Millisecond)
	require.Equal(t, initial, s.CongestionWindow())

	// Once a full smoothed RTT has elapsed since the window opened, it doubles.
	s.OnAcked(base.Add(101*time.Millisecond), 100*time.Millisecond)
	require.Equal(t, initial*2, s.CongestionWindow())
}

func TestSenderFastRetransmitHalvesWindow(t *testing.T) {
	s := NewSender(1000)
	base := time.Now()
	s.OnAcked(base, 100*time.Millisecond)
	s.OnAcked(base.Add(101*time.Millisecond), 100*time.Millisecond) // cwnd = 8000
	before := s.CongestionWindow()

	s.OnFastRetransmit()
	require.Equal(t, before/2, s.CongestionWindow())
	require.Equal(t, before/2, s.ssthresh)
	require.False(t, s.InSlowStart())
}

func TestSenderRetransmitTimeoutResetsToOneMSS(t *testing.T) {
	s := NewSender(1000)
	base := time.Now()
	s.OnAcked(base, 100*time.Millisecond)
	s.OnAcked(base.Add(101*time.Millisecond), 100*time.Millisecond)

	s.OnRetransmitTimeout()
	require.Equal(t, protocol.ByteCount(1000), s.CongestionWindow())
}

func TestSenderGrowthGatedByRTTNotByteCount(t *testing.T) {
	// Many acks arriving well within a single RTT must only grow the
	// window once, no matter how many bytes they carry (spec.md §4.3:
	// growth is per RTT, not per byte or per MSS acked).
	s := NewSender(1000)
	initial := s.CongestionWindow()
	base := time.Now()

	s.OnAcked(base, 20*time.Millisecond)
	for i := 1; i < 20; i++ {
		s.OnAcked(base.Add(time.Duration(i)*time.Millisecond), 20*time.Millisecond)
	}
	require.Equal(t, initial, s.CongestionWindow())

	s.OnAcked(base.Add(21*time.Millisecond), 20*time.Millisecond)
	require.Equal(t, initial*2, s.CongestionWindow())
}

func TestSendQuota(t *testing.T) {
	require.Equal(t, protocol.ByteCount(0), SendQuota(100, 200, 150))
	require.Equal(t, protocol.ByteCount(50), SendQuota(200, 100, 50))
}

func TestPacerAllowsOncePerInterval(t *testing.T) {
	p := NewPacer(50 * time.Millisecond)
	require.True(t, p.Allow())
	require.False(t, p.Allow())
	time.Sleep(60 * time.Millisecond)
	require.True(t, p.Allow())
}
