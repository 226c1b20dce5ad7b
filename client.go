package rft

import (
	"context"
	"fmt"
	"net"

	"github.com/rft-go/rft/internal/protocol"
	"github.com/rft-go/rft/internal/rftio"
)

// Dial opens a UDP socket to addr and runs RFT's client-side handshake
// against it (spec.md §4.4), returning a ready Connection once the
// server has replied with its assigned CID. The returned Connection's
// local filesystem is rftio.PlainFS, since Read/Write local paths are
// the caller's own, trusted local files (spec.md §6's root-confinement
// rule is server-side only).
func Dial(ctx context.Context, addr string, config *Config) (*Connection, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rft: resolve %q: %w", addr, err)
	}
	pconn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("rft: listen: %w", err)
	}

	cfg := populateConfig(config)
	if err := validateConfig(cfg); err != nil {
		pconn.Close()
		return nil, err
	}

	ep := newEndpoint(pconn, protocol.PerspectiveClient, cfg, rftio.PlainFS{})
	ep.start(ctx)

	c, err := ep.dial(ctx, raddr)
	if err != nil {
		_ = ep.close()
		return nil, err
	}
	c.endpoint = ep
	return c, nil
}
