package rft

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rft-go/rft/internal/protocol"
	"github.com/rft-go/rft/internal/rftio"
	"github.com/rft-go/rft/internal/testnet"
	"github.com/rft-go/rft/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestEndpoints(t *testing.T, root string) (client, server *endpoint) {
	t.Helper()
	cconn, sconn := testnet.NewPipe("client", "server", 1)

	fs, err := rftio.NewRootedFS(root)
	require.NoError(t, err)

	cfg := populateConfig(&Config{
		HandshakeTimeout: time.Second,
		IdleTimeout:      2 * time.Second,
		DrainTimeout:     time.Second,
	})

	client = newEndpoint(cconn, protocol.PerspectiveClient, cfg, rftio.PlainFS{})
	server = newEndpoint(sconn, protocol.PerspectiveServer, cfg, fs)
	return client, server
}

// TestMultiplexerHandshakeAndAccept drives a full client Dial against a
// server Listen loop over the in-memory pipe, exercising CID
// allocation, the pendingByAddr handoff, and the onOpen->acceptCh path
// without a real UDP socket.
func TestMultiplexerHandshakeAndAccept(t *testing.T) {
	root := t.TempDir()
	client, server := newTestEndpoints(t, root)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client.start(ctx)
	server.start(ctx)
	defer client.close()
	defer server.close()

	serverAddr := testnet.Addr("server")

	type dialResult struct {
		conn *Connection
		err  error
	}
	dialDone := make(chan dialResult, 1)
	go func() {
		c, err := client.dial(ctx, serverAddr)
		dialDone <- dialResult{c, err}
	}()

	accepted, err := server.accept(ctx)
	require.NoError(t, err)
	require.NotZero(t, accepted.ID())

	res := <-dialDone
	require.NoError(t, res.err)
	require.Equal(t, accepted.ID(), res.conn.ID())
}

// TestMultiplexerSingleDialYieldsOneConnection confirms one client Dial
// leaves exactly one connection in the server's table once the
// handshake has been accepted.
func TestMultiplexerSingleDialYieldsOneConnection(t *testing.T) {
	root := t.TempDir()
	client, server := newTestEndpoints(t, root)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client.start(ctx)
	server.start(ctx)
	defer client.close()
	defer server.close()

	go client.dial(ctx, testnet.Addr("server"))

	accepted, err := server.accept(ctx)
	require.NoError(t, err)

	server.mu.Lock()
	numConns := len(server.conns)
	server.mu.Unlock()
	require.Equal(t, 1, numConns)
	require.NotZero(t, accepted.ID())
}

func TestDialAndListenEndToEndReadWrite(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello, rft"), 0o644))

	client, server := newTestEndpoints(t, root)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client.start(ctx)
	server.start(ctx)
	defer client.close()
	defer server.close()

	dialDone := make(chan *Connection, 1)
	go func() {
		c, err := client.dial(ctx, testnet.Addr("server"))
		require.NoError(t, err)
		dialDone <- c
	}()

	srvConn, err := server.accept(ctx)
	require.NoError(t, err)
	require.NotNil(t, srvConn)

	conn := <-dialDone
	defer conn.Close()

	localOut := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, conn.Read(ctx, "hello.txt", localOut, 0, 0, 0))

	got, err := os.ReadFile(localOut)
	require.NoError(t, err)
	require.Equal(t, "hello, rft", string(got))
}

// TestTransferSurvivesPacketLoss exercises spec.md §8 Scenario 2: with
// a lossy pipe in both directions, a multi-frame Write still has to
// complete with the exact bytes delivered, recovering via fast
// retransmit and the retransmit timer rather than stalling or
// corrupting the transfer.
func TestTransferSurvivesPacketLoss(t *testing.T) {
	root := t.TempDir()
	client, server := newTestEndpoints(t, root)
	client.pconn.(*testnet.Conn).Loss = 0.1
	server.pconn.(*testnet.Conn).Loss = 0.1

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client.start(ctx)
	server.start(ctx)
	defer client.close()
	defer server.close()

	dialDone := make(chan *Connection, 1)
	go func() {
		c, err := client.dial(ctx, testnet.Addr("server"))
		require.NoError(t, err)
		dialDone <- c
	}()

	_, err := server.accept(ctx)
	require.NoError(t, err)
	conn := <-dialDone
	defer conn.Close()

	payload := make([]byte, 64*1024)
	rand.New(rand.NewSource(7)).Read(payload)
	localIn := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(localIn, payload, 0o644))

	require.NoError(t, conn.Write(ctx, localIn, "big.bin", 0, uint64(len(payload)), 0))

	got, err := os.ReadFile(filepath.Join(root, "big.bin"))
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

// TestEndpointNegotiatesAroundCIDCollision exercises spec.md §8
// Scenario 3: a client-proposed CID that collides with a connection
// already live on the endpoint must not be handed out twice; the
// server allocates a fresh one instead, while an uncontested proposal
// is honored as-is.
func TestEndpointNegotiatesAroundCIDCollision(t *testing.T) {
	root := t.TempDir()
	_, server := newTestEndpoints(t, root)

	taken := protocol.ConnectionID(0xAAAAAAAA)
	server.mu.Lock()
	server.conns[taken] = &Connection{}
	negotiated := server.negotiateCIDLocked(taken)
	server.mu.Unlock()
	require.NotEqual(t, taken, negotiated, "a colliding proposal must not be handed out again")

	free := protocol.ConnectionID(0xBBBBBBBB)
	server.mu.Lock()
	honored := server.negotiateCIDLocked(free)
	server.mu.Unlock()
	require.Equal(t, free, honored, "an uncontested proposal should be honored, not overridden")
}

// TestConnectionMigratesOnAddressChange exercises spec.md §8 Scenario
// 4: any validly-decoded packet for an established CID updates the
// connection's peer address inline, without a dedicated handshake,
// since the wire has no separate migration frame.
func TestConnectionMigratesOnAddressChange(t *testing.T) {
	root := t.TempDir()
	client, server := newTestEndpoints(t, root)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client.start(ctx)
	server.start(ctx)
	defer client.close()
	defer server.close()

	dialDone := make(chan *Connection, 1)
	go func() {
		c, err := client.dial(ctx, testnet.Addr("server"))
		require.NoError(t, err)
		dialDone <- c
	}()

	accepted, err := server.accept(ctx)
	require.NoError(t, err)
	<-dialDone

	require.Equal(t, "client", accepted.RemoteAddr().String())

	pkt := &wire.Packet{
		Version:      protocol.Version1,
		ConnectionID: accepted.ID(),
		Frames:       []wire.Frame{&wire.AckFrame{FrameID: protocol.InvalidFrameID}},
	}
	accepted.deliverInbound(pkt, testnet.Addr("client-roaming"))

	require.Eventually(t, func() bool {
		return accepted.RemoteAddr().String() == "client-roaming"
	}, time.Second, 10*time.Millisecond)
}

// TestCorruptedPacketIsSilentlyDropped exercises spec.md §8 Scenario
// 5: a datagram whose CRC no longer matches its bytes must be dropped
// by the endpoint's read loop rather than reaching any connection, and
// the connection it was aimed at must carry on unaffected.
func TestCorruptedPacketIsSilentlyDropped(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.txt"), []byte("still fine"), 0o644))
	client, server := newTestEndpoints(t, root)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client.start(ctx)
	server.start(ctx)
	defer client.close()
	defer server.close()

	dialDone := make(chan *Connection, 1)
	go func() {
		c, err := client.dial(ctx, testnet.Addr("server"))
		require.NoError(t, err)
		dialDone <- c
	}()
	_, err := server.accept(ctx)
	require.NoError(t, err)
	conn := <-dialDone
	defer conn.Close()

	garbage := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	require.NoError(t, client.writeTo(garbage, testnet.Addr("server")))

	localOut := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, conn.Read(ctx, "ok.txt", localOut, 0, 0, 0))
	got, err := os.ReadFile(localOut)
	require.NoError(t, err)
	require.Equal(t, "still fine", string(got))
}

// TestExitFreesCIDForReuse exercises spec.md §8 Scenario 6: once a
// connection has exited and torn down, its CID is removed from the
// endpoint's live-connection table, making it available for a later
// negotiation rather than being retired forever.
func TestExitFreesCIDForReuse(t *testing.T) {
	root := t.TempDir()
	client, server := newTestEndpoints(t, root)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client.start(ctx)
	server.start(ctx)
	defer client.close()
	defer server.close()

	dialDone := make(chan *Connection, 1)
	go func() {
		c, err := client.dial(ctx, testnet.Addr("server"))
		require.NoError(t, err)
		dialDone <- c
	}()
	accepted, err := server.accept(ctx)
	require.NoError(t, err)
	conn := <-dialDone

	cid := accepted.ID()
	require.NoError(t, conn.Exit(ctx))
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		_, stillLive := server.conns[cid]
		return !stillLive
	}, time.Second, 10*time.Millisecond)

	server.mu.Lock()
	honored := server.negotiateCIDLocked(cid)
	server.mu.Unlock()
	require.Equal(t, cid, honored, "a freed CID should be available to negotiate again")
}
