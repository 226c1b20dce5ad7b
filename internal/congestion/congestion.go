// Package congestion implements RFT's congestion window (spec.md
// §4.3): slow start doubling per RTT, additive-increase congestion
// avoidance, and multiplicative decrease on loss. It is shaped after
// the teacher's congestion.cubicSender — an RTTStats field feeding the
// growth decision, though cwnd is held in bytes — but implements the
// simpler AIMD curve this draft specifies rather than cubic. Growth is
// gated on one smoothed RTT elapsing (OnAcked), not on any fixed
// number of bytes acked, since the latter conflates growth rate with
// the window size itself.
package congestion

import (
	"time"

	"github.com/rft-go/rft/internal/protocol"
)

// Sender tracks one connection's send-side congestion window.
type Sender struct {
	mss protocol.ByteCount

	congestionWindow protocol.ByteCount // bytes
	ssthresh         protocol.ByteCount // bytes

	rtt         RTTStats
	windowStart time.Time // when the current growth window opened
}

// NewSender creates a Sender starting in slow start with an initial
// window of InitialCongestionWindowMSS * mss (spec.md §4.3).
func NewSender(mss protocol.ByteCount) *Sender {
	return &Sender{
		mss:              mss,
		congestionWindow: protocol.InitialCongestionWindowMSS * mss,
		ssthresh:         protocol.ByteCount(1) << 32, // effectively unbounded until a loss event
	}
}

// CongestionWindow is the current cwnd in bytes.
func (s *Sender) CongestionWindow() protocol.ByteCount { return s.congestionWindow }

// InSlowStart reports whether cwnd is still below ssthresh.
func (s *Sender) InSlowStart() bool { return s.congestionWindow < s.ssthresh }

// OnAcked folds in one Ack's worth of newly-acknowledged frames at
// time now. rttSample is a fresh, unambiguous round-trip sample (zero
// if this ack yielded none, e.g. every newly-acked frame had been
// retransmitted). Growth is gated on one smoothed RTT having elapsed
// since the window last grew (spec.md §4.3: "doubling per RTT" in slow
// start, "additive increase" of one MSS per RTT in congestion
// avoidance) rather than on any particular number of bytes acked,
// since bytes-per-RTT varies with the window size itself.
func (s *Sender) OnAcked(now time.Time, rttSample time.Duration) {
	if rttSample > 0 {
		s.rtt.Update(rttSample)
	}
	if s.windowStart.IsZero() {
		s.windowStart = now
		return
	}
	srtt := s.rtt.SmoothedRTT()
	if srtt <= 0 || now.Sub(s.windowStart) < srtt {
		return
	}
	s.windowStart = now

	if s.InSlowStart() {
		s.congestionWindow *= 2
		if s.congestionWindow > s.ssthresh {
			s.congestionWindow = s.ssthresh
		}
		return
	}
	s.congestionWindow += s.mss
}

// OnFastRetransmit applies the fast-retransmit loss response (spec.md
// §4.3): ssthresh <- cwnd/2, cwnd <- ssthresh.
func (s *Sender) OnFastRetransmit() {
	s.ssthresh = s.congestionWindow / 2
	if s.ssthresh < protocol.MinCongestionWindowMSS*s.mss {
		s.ssthresh = protocol.MinCongestionWindowMSS * s.mss
	}
	s.congestionWindow = s.ssthresh
	s.windowStart = time.Time{}
}

// OnRetransmitTimeout applies the RTO loss response (spec.md §4.3):
// ssthresh <- cwnd/2, cwnd <- 1*MSS.
func (s *Sender) OnRetransmitTimeout() {
	s.ssthresh = s.congestionWindow / 2
	if s.ssthresh < protocol.MinCongestionWindowMSS*s.mss {
		s.ssthresh = protocol.MinCongestionWindowMSS * s.mss
	}
	s.congestionWindow = protocol.MinCongestionWindowMSS * s.mss
	s.windowStart = time.Time{}
}

// SendQuota returns the effective send budget given the peer's
// advertised flow window and current bytes in flight (spec.md §4.3:
// "Effective send quota = min(flow window, cwnd) - bytes_in_flight").
func SendQuota(flowWindow, cwnd, bytesInFlight protocol.ByteCount) protocol.ByteCount {
	budget := flowWindow
	if cwnd < budget {
		budget = cwnd
	}
	if bytesInFlight >= budget {
		return 0
	}
	return budget - bytesInFlight
}
