package rft

import (
	"context"
	"fmt"
	"net"

	"github.com/rft-go/rft/internal/protocol"
	"github.com/rft-go/rft/internal/rftio"
)

// Server listens for RFT connections on one UDP socket and hands
// completed handshakes to Accept, mirroring the shape of the teacher's
// Listener: one socket, many multiplexed connections, each still
// driven by its own single-writer goroutine.
type Server struct {
	ep *endpoint
}

// Listen binds addr and returns a Server ready to Accept connections.
// config.ServerRoot is required: every accepted connection's command
// layer is confined to it (spec.md §6).
func Listen(ctx context.Context, addr string, config *Config) (*Server, error) {
	cfg, err := populateServerConfig(config)
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	fs, err := rftio.NewRootedFS(cfg.ServerRoot)
	if err != nil {
		return nil, fmt.Errorf("rft: server root: %w", err)
	}

	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rft: resolve %q: %w", addr, err)
	}
	pconn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("rft: listen: %w", err)
	}

	ep := newEndpoint(pconn, protocol.PerspectiveServer, cfg, fs)
	ep.start(ctx)
	return &Server{ep: ep}, nil
}

// LocalAddr reports the socket's bound address.
func (s *Server) LocalAddr() net.Addr { return s.ep.pconn.LocalAddr() }

// Accept blocks until a client has completed its handshake, or ctx is
// done or the Server is closed.
func (s *Server) Accept(ctx context.Context) (*Connection, error) {
	return s.ep.accept(ctx)
}

// Close shuts every connection on this socket down and stops accepting.
func (s *Server) Close() error {
	return s.ep.close()
}
