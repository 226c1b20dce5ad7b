package rft

import (
	"fmt"
	"time"

	"github.com/rft-go/rft/internal/protocol"
)

// Config carries the tunables a Dial or Listen call may override; a
// nil Config (or zero-valued fields within one) falls back to the
// package defaults named in protocol (SPEC_FULL.md §2 item 8).
type Config struct {
	// HandshakeTimeout bounds how long a client waits for the server's
	// handshake reply before giving up.
	HandshakeTimeout time.Duration
	// RetransmitTimeout is the fixed per-frame retransmit timer.
	RetransmitTimeout time.Duration
	// IdleTimeout tears a connection down after this much inbound
	// silence.
	IdleTimeout time.Duration
	// DrainTimeout is filled with a default by populateConfig but is
	// not read by the connection: a connection that enters Draining is
	// closed in the same step, without waiting for its peer.
	DrainTimeout time.Duration
	// ReceiveWindowSize is the byte capacity this side advertises to
	// its peer via Flow frames.
	ReceiveWindowSize protocol.ByteCount
	// ServerRoot confines a server's filesystem access; required on
	// the server side, ignored on the client side.
	ServerRoot string
	// Logger receives structured log lines; nil selects the
	// RFT_LOG_LEVEL-driven default.
	Logger Logger
}

// Logger is the leveled logging surface every RFT component is wired
// against (SPEC_FULL.md §2 item 9), so Config callers can supply their
// own sink instead of the env-driven default.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

func validateConfig(c *Config) error {
	if c == nil {
		return nil
	}
	if c.ReceiveWindowSize < 0 {
		return fmt.Errorf("rft: invalid ReceiveWindowSize")
	}
	return nil
}

// populateConfig fills unset fields with package defaults. It may be
// called with nil.
func populateConfig(c *Config) *Config {
	if c == nil {
		c = &Config{}
	}
	out := *c
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = protocol.HandshakeTimeout
	}
	if out.RetransmitTimeout == 0 {
		out.RetransmitTimeout = protocol.RetransmitTimeout
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = protocol.IdleTimeout
	}
	if out.DrainTimeout == 0 {
		out.DrainTimeout = protocol.DrainTimeout
	}
	if out.ReceiveWindowSize == 0 {
		out.ReceiveWindowSize = 64 * protocol.ByteCount(protocol.MaxSegmentSize)
	}
	return &out
}

// populateServerConfig additionally requires ServerRoot.
func populateServerConfig(c *Config) (*Config, error) {
	out := populateConfig(c)
	if out.ServerRoot == "" {
		return nil, fmt.Errorf("rft: Config.ServerRoot is required for Listen")
	}
	return out, nil
}
