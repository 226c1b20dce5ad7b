package congestion

import (
	"time"

	"golang.org/x/time/rate"
)

// Pacer rate-limits a periodic event — currently only the zero-window
// probe (spec.md §4.3: "probe with a zero-length data frame every
// 1s"). The teacher hand-rolls a token-bucket pacer; RFT reaches for
// golang.org/x/time/rate directly, since probing is a simple
// once-per-interval event rather than a byte-budget schedule.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a Pacer that allows one event per interval, with a
// burst of one (no catching up after a long quiet period).
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Allow reports whether an event may fire now, consuming a token if so.
func (p *Pacer) Allow() bool { return p.limiter.Allow() }
