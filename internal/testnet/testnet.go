// Package testnet provides an in-memory net.PacketConn so the
// multiplexer and connection state machine can be driven end to end in
// tests without opening a real UDP socket, grounded on the teacher's
// testutils/simnet package but trimmed to what RFT's tests need: two
// endpoints wired directly together, with optional packet loss for
// exercising the reliability layer.
package testnet

import (
	"math/rand"
	"net"
	"sync"
	"time"
)

// Conn is an in-memory net.PacketConn. Datagrams written to one Conn
// of a Pipe are delivered to the other's ReadFrom, subject to Loss.
type Conn struct {
	addr net.Addr
	peer *Conn

	mu     sync.Mutex
	closed bool
	inbox  chan packet

	readDeadline time.Time

	// Loss is the fraction of outbound packets to silently drop,
	// in [0,1). Read and mutated only before the Conn is used
	// concurrently by a caller.
	Loss float64
	rng  *rand.Rand
}

type packet struct {
	data []byte
	from net.Addr
}

// Addr is a trivial net.Addr for testnet endpoints, distinguished by
// name only.
type Addr string

func (a Addr) Network() string { return "testnet" }
func (a Addr) String() string  { return string(a) }

// NewPipe returns two connected Conns named a and b, each the other's
// peer. seed controls the deterministic loss RNG used when Loss > 0.
func NewPipe(a, b string, seed int64) (*Conn, *Conn) {
	ca := &Conn{addr: Addr(a), inbox: make(chan packet, 256), rng: rand.New(rand.NewSource(seed))}
	cb := &Conn{addr: Addr(b), inbox: make(chan packet, 256), rng: rand.New(rand.NewSource(seed + 1))}
	ca.peer = cb
	cb.peer = ca
	return ca, cb
}

func (c *Conn) LocalAddr() net.Addr { return c.addr }

func (c *Conn) ReadFrom(p []byte) (n int, addr net.Addr, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	deadline := c.readDeadline
	c.mu.Unlock()

	var timer <-chan time.Time
	if !deadline.IsZero() {
		if !time.Now().Before(deadline) {
			return 0, nil, errTimeout{}
		}
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timer = t.C
	}

	select {
	case pkt, ok := <-c.inbox:
		if !ok {
			return 0, nil, net.ErrClosed
		}
		return copy(p, pkt.data), pkt.from, nil
	case <-timer:
		return 0, nil, errTimeout{}
	}
}

func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, net.ErrClosed
	}
	loss, rng := c.Loss, c.rng
	c.mu.Unlock()

	if loss > 0 && rng.Float64() < loss {
		return len(p), nil
	}

	cp := make([]byte, len(p))
	copy(cp, p)

	c.peer.mu.Lock()
	if c.peer.closed {
		c.peer.mu.Unlock()
		return 0, net.ErrClosed
	}
	c.peer.mu.Unlock()

	select {
	case c.peer.inbox <- packet{data: cp, from: c.addr}:
	default:
		// peer's inbox is full; drop, same as a real socket buffer overflow.
	}
	return len(p), nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.inbox)
	return nil
}

func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error { return nil }

type errTimeout struct{}

func (errTimeout) Error() string   { return "testnet: i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

var _ net.PacketConn = (*Conn)(nil)
var _ net.Error = errTimeout{}
