package rft

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rft-go/rft/internal/protocol"
	"github.com/rft-go/rft/internal/rftio"
	"github.com/rft-go/rft/internal/utils"
	"github.com/rft-go/rft/internal/wire"
	"golang.org/x/sync/errgroup"
)

// endpoint owns one UDP socket and fans its datagrams out to the
// connections that live on top of it (spec.md §4.7's "multiplexer"),
// mirroring the shape of the teacher's packetHandlerMap plus its
// client/server multiplexer read loops, collapsed into a single type
// since RFT has no separate stateless-reset or retry-token machinery.
type endpoint struct {
	pconn       net.PacketConn
	perspective protocol.Perspective
	config      *Config
	log         Logger
	fs          rftio.FileSystem

	mu            sync.Mutex
	conns         map[protocol.ConnectionID]*Connection
	pendingByAddr map[string]*Connection // server only: CID-0 handshakes not yet Open, keyed by peer address
	solo          *Connection            // client only: the one connection a Dial created
	closed        bool

	// acceptCh carries newly-Open server connections out to Accept
	// (spec.md §4.4: a connection is only handed to the application
	// once its handshake has actually completed).
	acceptCh chan *Connection

	group  *errgroup.Group
	cancel context.CancelFunc
}

func newEndpoint(pconn net.PacketConn, perspective protocol.Perspective, config *Config, fs rftio.FileSystem) *endpoint {
	logger := config.Logger
	if logger == nil {
		logger = utils.NewLoggerFromEnv(perspective.String())
	}
	return &endpoint{
		pconn:         pconn,
		perspective:   perspective,
		config:        config,
		log:           logger,
		fs:            fs,
		conns:         make(map[protocol.ConnectionID]*Connection),
		pendingByAddr: make(map[string]*Connection),
		acceptCh:      make(chan *Connection, 16),
	}
}

// start launches the socket read loop under an errgroup.Group
// (SPEC_FULL.md §4.8: the multiplexer's goroutines are supervised with
// errgroup rather than a bare sync.WaitGroup).
func (e *endpoint) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	e.group = g
	g.Go(func() error { return e.readLoop(gctx) })
}

func (e *endpoint) writeTo(b []byte, addr net.Addr) error {
	_, err := e.pconn.WriteTo(b, addr)
	return err
}

// readLoop is the endpoint's only reader of the socket; it decodes
// each datagram and hands it to the owning connection's own inbound
// channel, preserving the single-writer-per-connection model (spec.md
// §5) while letting one goroutine serve every connection multiplexed
// onto this socket.
func (e *endpoint) readLoop(ctx context.Context) error {
	buf := make([]byte, int(protocol.MaxUDPPayloadSize)*2)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, addr, err := e.pconn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if e.isClosed() {
				return nil
			}
			return fmt.Errorf("rft: read udp: %w", err)
		}
		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			e.log.Warnf("dropping malformed packet from %s: %v", addr, err)
			continue
		}
		e.dispatch(pkt, addr)
	}
}

func (e *endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *endpoint) dispatch(pkt *wire.Packet, addr net.Addr) {
	if e.perspective == protocol.PerspectiveClient {
		e.mu.Lock()
		c := e.solo
		e.mu.Unlock()
		if c != nil {
			c.deliverInbound(pkt, addr)
		}
		return
	}

	if pkt.ConnectionID.IsHello() {
		e.dispatchHello(pkt, addr)
		return
	}

	e.mu.Lock()
	c, ok := e.conns[pkt.ConnectionID]
	e.mu.Unlock()
	if !ok {
		e.log.Warnf("packet for unknown connection %08x from %s dropped", uint32(pkt.ConnectionID), addr)
		return
	}
	c.deliverInbound(pkt, addr)
}

// dispatchHello either routes a retried hello to the handshake already
// in progress for that address, or negotiates a CID (negotiateCIDLocked)
// and starts a new connection (spec.md §4.4: "server replies with the
// CID it has assigned").
func (e *endpoint) dispatchHello(pkt *wire.Packet, addr net.Addr) {
	key := addr.String()

	e.mu.Lock()
	if c, ok := e.pendingByAddr[key]; ok {
		e.mu.Unlock()
		c.deliverInbound(pkt, addr)
		return
	}
	if e.closed {
		e.mu.Unlock()
		return
	}
	cid := e.negotiateCIDLocked(proposedCID(pkt))
	c := newConnection(cid, protocol.PerspectiveServer, addr, e.config, e.writeTo, e.onConnClose, e.fs)
	c.onOpen = func(conn *Connection) { e.onConnOpen(key, conn) }
	e.conns[cid] = c
	e.pendingByAddr[key] = c
	e.mu.Unlock()

	e.group.Go(func() error {
		c.run()
		return nil
	})
	c.deliverInbound(pkt, addr)
}

// randomCID folds a random UUID into a 32-bit CID (SPEC_FULL.md §4.8:
// CIDs are sourced from github.com/google/uuid) rather than a
// hand-rolled counter, so CIDs stay unpredictable across restarts. It
// never returns the reserved hello sentinel (CID 0).
func randomCID() protocol.ConnectionID {
	for {
		id := uuid.New()
		cid := protocol.ConnectionID(binary.BigEndian.Uint32(id[:4]))
		if !cid.IsHello() {
			return cid
		}
	}
}

// allocateCIDLocked picks a fresh, non-reserved, collision-free CID.
// Must be called with e.mu held.
func (e *endpoint) allocateCIDLocked() protocol.ConnectionID {
	for {
		cid := randomCID()
		if _, taken := e.conns[cid]; taken {
			continue
		}
		return cid
	}
}

// negotiateCIDLocked honors the client's proposed CID (spec.md §4.4:
// "client proposes, server either accepts or allocates a fresh one")
// when it's non-zero and not already in use by another connection on
// this endpoint; otherwise it falls back to allocating one. Must be
// called with e.mu held.
func (e *endpoint) negotiateCIDLocked(proposed protocol.ConnectionID) protocol.ConnectionID {
	if !proposed.IsHello() {
		if _, taken := e.conns[proposed]; !taken {
			return proposed
		}
	}
	return e.allocateCIDLocked()
}

// proposedCID extracts the CID a client's hello packet proposed, or 0
// if the packet carries no hello frame.
func proposedCID(pkt *wire.Packet) protocol.ConnectionID {
	for _, f := range pkt.Frames {
		if cf, ok := f.(*wire.ConnectionIDChangeFrame); ok && cf.OldCID == 0 {
			return cf.NewCID
		}
	}
	return 0
}

// onConnOpen moves a just-handshaked server connection from the
// pending-by-address table into the accept queue.
func (e *endpoint) onConnOpen(pendingKey string, c *Connection) {
	e.mu.Lock()
	delete(e.pendingByAddr, pendingKey)
	e.mu.Unlock()
	select {
	case e.acceptCh <- c:
	default:
		e.log.Warnf("accept queue full, dropping connection %08x", uint32(c.ID()))
		_ = c.Close()
	}
}

func (e *endpoint) onConnClose(cid protocol.ConnectionID) {
	e.mu.Lock()
	delete(e.conns, cid)
	e.mu.Unlock()
}

// accept blocks until a new server connection has finished its
// handshake, or ctx is done.
func (e *endpoint) accept(ctx context.Context) (*Connection, error) {
	select {
	case c, ok := <-e.acceptCh:
		if !ok {
			return nil, fmt.Errorf("rft: endpoint closed")
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dial starts a client connection in solo mode: every inbound datagram
// on this socket is handed to it regardless of header CID, since the
// client doesn't learn its real CID until the handshake reply arrives
// (see DESIGN.md, "client solo-mode routing").
func (e *endpoint) dial(ctx context.Context, addr net.Addr) (*Connection, error) {
	c := newConnection(0, protocol.PerspectiveClient, addr, e.config, e.writeTo, e.onConnClose, e.fs)

	e.mu.Lock()
	e.solo = c
	e.mu.Unlock()

	e.group.Go(func() error {
		c.run()
		return nil
	})

	select {
	case err := <-c.handshakeResult:
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.conns[c.ID()] = c
		e.mu.Unlock()
		return c, nil
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	case <-c.doneCh:
		return nil, fmt.Errorf("rft: connection closed before handshake completed")
	}
}

// close shuts every live connection down and stops the read loop.
func (e *endpoint) close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	_ = e.pconn.Close()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			_ = c.Close()
		}(c)
	}
	wg.Wait()

	if e.group != nil {
		_ = e.group.Wait()
	}
	close(e.acceptCh)
	return nil
}
