package rft

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rft-go/rft/internal/ackhandler"
	"github.com/rft-go/rft/internal/command"
	"github.com/rft-go/rft/internal/congestion"
	"github.com/rft-go/rft/internal/flowcontrol"
	"github.com/rft-go/rft/internal/metrics"
	"github.com/rft-go/rft/internal/protocol"
	"github.com/rft-go/rft/internal/qlog"
	"github.com/rft-go/rft/internal/rfterr"
	"github.com/rft-go/rft/internal/rftio"
	"github.com/rft-go/rft/internal/transfer"
	"github.com/rft-go/rft/internal/utils"
	"github.com/rft-go/rft/internal/wire"
)

// connState is a Connection's position in the state machine (spec.md
// §4.4). Migrating isn't modeled as a distinct state: address change
// is handled inline, without blocking, while Open (see handlePacket).
type connState uint8

const (
	stateHandshaking connState = iota
	stateOpen
	stateDraining
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateHandshaking:
		return "handshaking"
	case stateOpen:
		return "open"
	case stateDraining:
		return "draining"
	default:
		return "closed"
	}
}

type inboundDatagram struct {
	pkt  *wire.Packet
	from net.Addr
}

// commandRequest is how a client-side convenience call (Read, Write,
// List, ...) asks the connection's single run loop to issue a Command
// frame and, for Read/Write, drive the resulting transfer.
type commandRequest struct {
	commandType wire.CommandType
	payload     wire.CommandPayload
	localPath   string // Read: destination; Write: source. Empty otherwise.
	expectedCRC uint32

	result chan commandOutcome
}

type commandOutcome struct {
	answer wire.AnswerPayload
	err    error
}

// Connection is one RFT connection: the per-connection protocol engine
// (spec.md §2) — wire codec, reliability, flow/congestion control,
// state machine, command layer and transfer coordinator — driven by a
// single goroutine (spec.md §5: "single-writer-per-connection
// concurrency").
type Connection struct {
	id          protocol.ConnectionID
	version     protocol.Version
	perspective protocol.Perspective
	config      *Config
	log         Logger
	trace       *qlog.Trace

	writeTo     func(b []byte, addr net.Addr) error
	onClose     func(protocol.ConnectionID)
	onCIDChange func(old, new_ protocol.ConnectionID)
	onOpen      func(*Connection)

	mu       sync.Mutex
	peerAddr net.Addr
	state       connState
	closeErr    error
	openCounted bool

	sendLog    *ackhandler.SendLog
	recvCursor *ackhandler.RecvCursor
	flow       *flowcontrol.Controller
	cong       *congestion.Sender
	zeroPacer  *congestion.Pacer

	// handler executes inbound commands; non-nil on the server side
	// only (spec.md §4.5's command layer is a server responsibility).
	handler *command.Handler

	// Client-side transfer state: the connection locally plays sender
	// (Write) or receiver (Read) for the one command currently open.
	clientFS          rftio.FileSystem
	clientSend        *transfer.Send
	clientSendFrameID protocol.FrameID
	clientRecv        *transfer.Receive
	clientRecvFrameID protocol.FrameID

	// dataOffsets remembers the byte offset carried by a Data frame
	// between arrival and delivery, since RecvCursor's generic
	// Delivered only threads the opaque payload through (spec.md §4.2
	// is frame-type agnostic; offsets are a Data-frame-specific
	// concern layered on top here).
	dataOffsets map[protocol.FrameID]uint64

	outFrames []wire.Frame

	lastActivity         time.Time
	handshakeDeadline    time.Time
	flowAdvertised       bool
	lastAdvertisedWindow uint16

	inbound  chan inboundDatagram
	requests chan commandRequest
	closeCh  chan struct{}
	doneCh   chan struct{}

	pendingMu sync.Mutex
	pending   map[protocol.FrameID]chan commandOutcome

	handshakeResult chan error // client only: signals Dial once Open or failed

	// endpoint is set by Dial on client connections, whose socket
	// belongs to this connection alone; Close tears it down too. A
	// server connection's endpoint is shared across many connections
	// and outlives any one of them, so it's left nil here.
	endpoint *endpoint
}

func newConnection(
	id protocol.ConnectionID,
	perspective protocol.Perspective,
	peerAddr net.Addr,
	config *Config,
	writeTo func([]byte, net.Addr) error,
	onClose func(protocol.ConnectionID),
	fs rftio.FileSystem,
) *Connection {
	logger := config.Logger
	if logger == nil {
		logger = utils.NewLoggerFromEnv(perspective.String())
	}
	lg := logger
	if ul, ok := logger.(*utils.Logger); ok {
		lg = ul.With(fmt.Sprintf("cid=%08x", uint32(id)))
	}
	trace, err := qlog.NewFromEnv(uint32(id))
	if err != nil {
		lg.Warnf("qlog: %v", err)
	}

	c := &Connection{
		id:          id,
		version:     protocol.Version1,
		perspective: perspective,
		config:      config,
		log:         lg,
		trace:       trace,
		writeTo:     writeTo,
		onClose:     onClose,
		peerAddr:    peerAddr,
		state:       stateHandshaking,

		sendLog:    ackhandler.NewSendLog(),
		recvCursor: ackhandler.NewRecvCursor(),
		flow:       flowcontrol.NewController(config.ReceiveWindowSize),
		cong:       congestion.NewSender(protocol.ByteCount(protocol.MaxSegmentSize)),
		zeroPacer:  congestion.NewPacer(protocol.ZeroWindowProbeInterval),

		dataOffsets: make(map[protocol.FrameID]uint64),

		lastActivity: time.Now(),

		inbound:  make(chan inboundDatagram, 64),
		requests: make(chan commandRequest),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),

		pending: make(map[protocol.FrameID]chan commandOutcome),

		handshakeResult: make(chan error, 1),
	}
	if perspective == protocol.PerspectiveServer {
		c.handler = command.NewHandler(fs)
	} else {
		c.clientFS = fs
	}
	return c
}

// ID returns the connection's CID.
func (c *Connection) ID() protocol.ConnectionID { return c.id }

// RemoteAddr returns the peer's most recently observed address.
func (c *Connection) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerAddr
}

func (c *Connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if s == stateOpen && !c.openCounted {
		c.openCounted = true
		metrics.ConnectionsOpen.Inc()
		if c.onOpen != nil {
			c.onOpen(c)
		}
	}
}

func (c *Connection) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// deliverInbound is called by the endpoint's read loop for every
// datagram addressed to this connection's CID.
func (c *Connection) deliverInbound(pkt *wire.Packet, from net.Addr) {
	select {
	case c.inbound <- inboundDatagram{pkt: pkt, from: from}:
	case <-c.doneCh:
	}
}

// run is the connection's single goroutine: it owns every piece of
// mutable state below the mutex-protected peerAddr/state pair, so no
// further locking is needed inside it (spec.md §5).
func (c *Connection) run() {
	defer close(c.doneCh)
	defer c.trace.Close()
	defer func() {
		if c.openCounted {
			metrics.ConnectionsOpen.Dec()
		}
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	c.handshakeDeadline = time.Now().Add(c.config.HandshakeTimeout)
	if c.perspective == protocol.PerspectiveClient {
		c.sendHello()
		c.flush()
	}

	for {
		select {
		case <-c.closeCh:
			c.teardown(rfterr.NoError, "")
			return
		case dg := <-c.inbound:
			c.handlePacket(dg.pkt, dg.from)
		case req := <-c.requests:
			c.handleRequest(req)
		case now := <-ticker.C:
			c.onTick(now)
		}
		c.flush()
		if c.getState() == stateClosed {
			return
		}
	}
}

// Close shuts the connection down locally: the run loop moves it
// straight to Closed. It does not pass through Draining and does not
// wait for outstanding frames to be acknowledged.
func (c *Connection) Close() error {
	select {
	case <-c.doneCh:
	case c.closeCh <- struct{}{}:
		<-c.doneCh
	}
	if c.endpoint != nil {
		return c.endpoint.close()
	}
	return nil
}

func (c *Connection) teardown(code rfterr.Code, msg string) {
	if c.getState() == stateClosed {
		return
	}
	if code != rfterr.NoError {
		id := c.sendLog.ReserveID()
		ef := &wire.ErrorFrame{FrameID: id, Code: uint8(code), Message: msg}
		c.sendTracked(id, ef)
	}
	c.setState(stateClosed)
	c.trace.Record("closed", map[string]any{"code": uint8(code), "message": msg})
	c.failPending(fmt.Errorf("rft: connection closed: %s", code))
	if c.onClose != nil {
		c.onClose(c.id)
	}
	select {
	case c.handshakeResult <- fmt.Errorf("rft: connection closed before handshake completed"):
	default:
	}
}

func (c *Connection) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- commandOutcome{err: err}
		delete(c.pending, id)
	}
}

// sendTracked assigns no further bookkeeping beyond recording the
// frame in the send log and marking it sent; the packet carrying it is
// written out by flush() at the end of this loop iteration, so marking
// "sent" slightly early (at enqueue rather than at the actual write)
// never misleads the retransmit timer by more than one iteration.
func (c *Connection) sendTracked(id protocol.FrameID, f wire.Frame) {
	enc := f.AppendTo(make([]byte, 0, f.EncodedLen()))
	length := protocol.ByteCount(len(enc))
	c.sendLog.Track(id, enc, length)
	c.sendLog.MarkSent(id, time.Now())
	c.outFrames = append(c.outFrames, wire.RawFrame{Bytes: enc})
	metrics.FramesSent.WithLabelValues(f.Type().String()).Inc()
}

func (c *Connection) sendUntracked(f wire.Frame) {
	c.outFrames = append(c.outFrames, f)
	metrics.FramesSent.WithLabelValues(f.Type().String()).Inc()
}

func (c *Connection) resend(sf *ackhandler.SentFrame) {
	c.outFrames = append(c.outFrames, wire.RawFrame{Bytes: sf.Encoded})
}

// flush packs every frame queued this iteration into as few packets as
// MaxFramesPerPacket / MaxUDPPayloadSize allow and writes them out
// (spec.md §4.7: "each connection enqueues packets; the multiplexer
// drains them to the socket").
func (c *Connection) flush() {
	if len(c.outFrames) == 0 {
		return
	}
	maxPayload := int(protocol.MaxUDPPayloadSize)
	frames := c.outFrames
	c.outFrames = nil

	for len(frames) > 0 {
		pkt := &wire.Packet{Version: c.version, ConnectionID: c.id}
		size := int(protocol.HeaderSize)
		i := 0
		for i < len(frames) && len(pkt.Frames) < protocol.MaxFramesPerPacket {
			fl := frames[i].EncodedLen()
			if len(pkt.Frames) > 0 && size+fl > maxPayload {
				break
			}
			pkt.Frames = append(pkt.Frames, frames[i])
			size += fl
			i++
		}
		frames = frames[i:]

		buf, err := pkt.Encode()
		if err != nil {
			c.log.Errorf("encode outbound packet: %v", err)
			continue
		}
		addr := c.RemoteAddr()
		if err := c.writeTo(buf, addr); err != nil {
			c.log.Warnf("write to %s: %v", addr, err)
		}
	}
}

// handlePacket processes one inbound, already CRC-verified packet
// (decode failures are dropped by the endpoint before this is called).
func (c *Connection) handlePacket(pkt *wire.Packet, from net.Addr) {
	c.lastActivity = time.Now()

	if c.getState() == stateHandshaking && c.perspective == protocol.PerspectiveServer {
		c.handleHello(pkt, from)
		return
	}

	if pkt.Version != c.version {
		c.log.Warnf("version mismatch: got %d want %d", pkt.Version, c.version)
		c.teardown(rfterr.VersionMismatch, "unsupported version")
		return
	}

	// Implicit migration (spec.md §4.4.2): any valid packet from a new
	// address updates the peer endpoint, no frame exchange required.
	c.mu.Lock()
	if c.peerAddr == nil || from.String() != c.peerAddr.String() {
		c.log.Infof("peer address changed %v -> %v", c.peerAddr, from)
		c.trace.Record("migration", map[string]any{"from": fmt.Sprint(from)})
		c.peerAddr = from
	}
	c.mu.Unlock()

	for _, f := range pkt.Frames {
		c.handleFrame(f)
	}

	now := time.Now()
	if c.recvCursor.AckIsDue(now) {
		id := c.recvCursor.CumulativeAck()
		c.sendUntracked(&wire.AckFrame{FrameID: id})
		c.recvCursor.MarkAckSent(now)
	}
}

func (c *Connection) handleFrame(f wire.Frame) {
	switch fr := f.(type) {
	case *wire.DataFrame:
		c.dataOffsets[fr.FrameID] = fr.Offset
		delivered, _ := c.recvCursor.Accept(fr.FrameID, fr.Payload)
		for _, d := range delivered {
			offset := c.dataOffsets[d.ID]
			delete(c.dataOffsets, d.ID)
			c.deliverData(offset, d.Payload)
		}
	case *wire.AckFrame:
		c.handleAck(fr)
	case *wire.FlowFrame:
		c.handleFlow(fr)
	case *wire.ErrorFrame:
		c.handleError(fr)
	case *wire.CommandFrame:
		c.handleCommand(fr)
	case *wire.AnswerFrame:
		c.handleAnswer(fr)
	case *wire.ConnectionIDChangeFrame:
		c.handleConnectionIDChange(fr)
	}
}

// handleConnectionIDChange is the client-side half of the handshake
// (spec.md §4.4): the server's reply to our hello names the CID we
// must use for the rest of the connection's life.
func (c *Connection) handleConnectionIDChange(fr *wire.ConnectionIDChangeFrame) {
	if c.perspective != protocol.PerspectiveClient || c.getState() != stateHandshaking {
		return
	}
	if fr.OldCID != 0 {
		return
	}
	old := c.id
	c.id = fr.NewCID
	if c.onCIDChange != nil {
		c.onCIDChange(old, fr.NewCID)
	}
	c.setState(stateOpen)
	select {
	case c.handshakeResult <- nil:
	default:
	}
	c.trace.Record("handshake_complete", map[string]any{"cid": uint32(fr.NewCID)})
}

// sendHello is the client's opening move: an unsolicited
// ConnectionIDChangeFrame with OldCID 0 so the server's reply can be
// recognized by that field alone, before we have a send log history to
// correlate against, and NewCID carrying the CID we'd like to use
// (spec.md §4.4: "client proposes, server either accepts or allocates
// a fresh one"). The server tells us which one actually won via its
// own ConnectionIDChangeFrame reply, honored unconditionally in
// handleConnectionIDChange regardless of whether it matches our
// proposal.
func (c *Connection) sendHello() {
	f := &wire.ConnectionIDChangeFrame{FrameID: c.sendLog.ReserveID(), OldCID: 0, NewCID: randomCID()}
	c.sendUntracked(f)
}

// handleHello is the server-side half of the handshake: it answers the
// client's CID-0 hello with the CID already allocated for this
// connection by the endpoint, plus an initial Flow advertisement.
func (c *Connection) handleHello(pkt *wire.Packet, from net.Addr) {
	if pkt.Version != c.version {
		id := c.sendLog.ReserveID()
		c.sendTracked(id, &wire.ErrorFrame{FrameID: id, Code: uint8(rfterr.VersionMismatch), Message: "unsupported version"})
		c.teardown(rfterr.VersionMismatch, "unsupported version")
		return
	}
	c.mu.Lock()
	c.peerAddr = from
	c.mu.Unlock()

	reply := &wire.ConnectionIDChangeFrame{FrameID: c.sendLog.ReserveID(), OldCID: 0, NewCID: c.id}
	c.sendUntracked(reply)
	c.sendUntracked(&wire.FlowFrame{WindowSize: clampUint16(c.flow.AdvertisedWindow())})

	c.setState(stateOpen)
	c.trace.Record("handshake_complete", map[string]any{"cid": uint32(c.id)})
}

func (c *Connection) handleAck(fr *wire.AckFrame) {
	result := c.sendLog.OnAck(fr.FrameID)
	if len(result.Acked) > 0 {
		now := time.Now()
		var rttSample time.Duration
		for _, sf := range result.Acked {
			if sf.RetransmitCount != 0 {
				continue // Karn's algorithm: can't tell which transmission this acks
			}
			if sample := now.Sub(sf.SentAt); rttSample == 0 || sample < rttSample {
				rttSample = sample
			}
		}
		c.cong.OnAcked(now, rttSample)
		metrics.FramesAcked.Add(float64(len(result.Acked)))
		metrics.CongestionWindow.Set(float64(c.cong.CongestionWindow()))
	}
	if result.FastRetransmit != nil {
		c.cong.OnFastRetransmit()
		result.FastRetransmit.RetransmitCount++
		result.FastRetransmit.SentAt = time.Now()
		c.resend(result.FastRetransmit)
		metrics.FramesRetransmitted.WithLabelValues("fast").Inc()
		metrics.CongestionWindow.Set(float64(c.cong.CongestionWindow()))
	}
}

func (c *Connection) handleFlow(fr *wire.FlowFrame) {
	zeroCount := c.flow.OnPeerFlow(protocol.ByteCount(fr.WindowSize))
	metrics.FlowWindow.Set(float64(fr.WindowSize))
	if zeroCount >= protocol.MaxZeroWindowObservations {
		c.log.Warnf("%d consecutive zero-window Flow frames; terminating", zeroCount)
		c.teardown(rfterr.NoError, "zero window")
	}
}

func (c *Connection) handleError(fr *wire.ErrorFrame) {
	code := rfterr.Code(fr.Code)
	c.log.Warnf("peer error %s: %s", code, fr.Message)
	c.trace.Record("peer_error", map[string]any{"code": uint8(code), "message": fr.Message})
	switch code {
	case rfterr.VersionMismatch, rfterr.Shutdown, rfterr.InternalError:
		c.teardown(rfterr.NoError, "")
	default:
		c.resolvePending(fr.FrameID, commandOutcome{err: rfterr.New(code, fr.Message)})
	}
}

// deliverData routes one in-order Data payload to whichever side is
// currently receiving (spec.md §4.6): the server's command handler for
// an inbound Write, or the client's own Receive for an inbound Read.
func (c *Connection) deliverData(offset uint64, payload []byte) {
	if c.perspective == protocol.PerspectiveServer {
		if !c.handler.HasActiveReceive() {
			return
		}
		completed, err := c.handler.AcceptData(offset, payload)
		if completed {
			c.sendWriteAnswer(err)
		}
		return
	}
	if c.clientRecv == nil {
		return
	}
	if err := c.clientRecv.Accept(offset, payload); err != nil {
		c.log.Errorf("write to local file: %v", err)
		return
	}
	if c.clientRecv.IsComplete() {
		err := c.clientRecv.VerifyCRC()
		c.clientRecv = nil
		if err != nil {
			c.log.Warnf("received file failed CRC check: %v", err)
		}
	}
}

func (c *Connection) sendWriteAnswer(completionErr error) {
	frameID := c.handler.RecvFrameID()
	if completionErr != nil {
		c.sendCommandError(frameID, rfterr.ChecksumChanged, completionErr.Error())
		return
	}
	af := &wire.AnswerFrame{
		FrameID:     frameID,
		CommandType: wire.CommandWrite,
		Payload:     wire.NewStatusAnswerPayload(wire.CommandWrite, uint8(rfterr.NoError), ""),
	}
	// Answer frames echo the Command's FrameID from the peer's own
	// outbound sequence, which isn't safe to key into our local send
	// log (that keyspace is reserved for frames we numbered ourselves);
	// sent untracked, like Ack/Flow.
	c.sendUntracked(af)
}

// sendCommandError replies to a Command frame with a command-scoped
// Error frame (spec.md §7: "command errors ... send Error frame scoped
// to the command, connection stays open"), echoing the Command's own
// FrameID so the peer's resolvePending can match it the same way it
// matches an Answer.
func (c *Connection) sendCommandError(frameID protocol.FrameID, code rfterr.Code, msg string) {
	cmdErr := &rfterr.CommandError{FrameID: uint32(frameID), Code: code, Message: msg}
	c.log.Warnf("command failed: %v", cmdErr)
	c.trace.Record("command_error", map[string]any{"frame_id": uint32(frameID), "code": uint8(code)})
	c.sendUntracked(&wire.ErrorFrame{FrameID: frameID, Code: uint8(code), Message: msg})
}

func (c *Connection) handleCommand(cf *wire.CommandFrame) {
	if c.handler == nil {
		return // client perspective never receives commands
	}
	answer, deferred := c.handler.Handle(cf)
	if deferred {
		return // Read/Write: driven by the send pump / deliverData instead
	}
	if status, ok := answer.(wire.StatusAnswerPayload); ok && status.Status != uint8(rfterr.NoError) {
		c.sendCommandError(cf.FrameID, rfterr.Code(status.Status), status.Detail)
	} else {
		af := &wire.AnswerFrame{FrameID: cf.FrameID, CommandType: cf.CommandType, Payload: answer}
		c.sendUntracked(af)
	}
	if cf.CommandType == wire.CommandExit {
		c.setState(stateDraining)
		c.teardown(rfterr.NoError, "")
	}
}

func (c *Connection) handleAnswer(af *wire.AnswerFrame) {
	c.resolvePending(af.FrameID, commandOutcome{answer: af.Payload})
}

func (c *Connection) resolvePending(id protocol.FrameID, outcome commandOutcome) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- outcome
	}
}

// onTick drives every periodic duty: RTO retransmission, zero-window
// probing, idle and handshake timeouts, and the outbound data pump.
// There is no drain timeout: a connection leaves Draining in the same
// step that enters it.
func (c *Connection) onTick(now time.Time) {
	state := c.getState()
	if state == stateClosed {
		return
	}

	if state == stateHandshaking {
		if !c.handshakeDeadline.IsZero() && now.After(c.handshakeDeadline) {
			c.log.Warnf("handshake timed out")
			select {
			case c.handshakeResult <- fmt.Errorf("rft: handshake timed out"):
			default:
			}
			c.teardown(rfterr.NoError, "handshake timeout")
		}
		return
	}

	if now.Sub(c.lastActivity) >= c.config.IdleTimeout {
		c.log.Infof("idle timeout")
		c.teardown(rfterr.NoError, "idle timeout")
		return
	}

	for _, sf := range c.sendLog.Tick(now, c.config.RetransmitTimeout) {
		c.cong.OnRetransmitTimeout()
		c.resend(sf)
		metrics.FramesRetransmitted.WithLabelValues("rto").Inc()
		metrics.CongestionWindow.Set(float64(c.cong.CongestionWindow()))
	}

	c.maybeSendFlow()
	c.pumpSend(now)
}

// maybeSendFlow re-advertises our receive window whenever it has
// changed since the last advertisement (spec.md §4.3), so the peer
// learns of newly freed buffer capacity without waiting on a reply.
func (c *Connection) maybeSendFlow() {
	adv := clampUint16(c.flow.AdvertisedWindow())
	if c.flowAdvertised && adv == c.lastAdvertisedWindow {
		return
	}
	c.flowAdvertised = true
	c.lastAdvertisedWindow = adv
	c.sendUntracked(&wire.FlowFrame{WindowSize: adv})
}

func clampUint16(b protocol.ByteCount) uint16 {
	if b > protocol.ByteCount(^uint16(0)) {
		return ^uint16(0)
	}
	return uint16(b)
}

// pumpSend feeds the active outbound transfer (server's Read, or the
// client's Write) with as many Data frames as the flow/congestion
// quota allows right now.
func (c *Connection) pumpSend(now time.Time) {
	if c.flow.IsPeerWindowZero() {
		if c.zeroPacer.Allow() {
			c.sendZeroWindowProbe()
		}
		return
	}

	quota := congestion.SendQuota(c.flow.SendWindow(), c.cong.CongestionWindow(), c.sendLog.BytesInFlight())
	mss := protocol.ByteCount(protocol.MaxSegmentSize)

	for quota >= mss || (quota > 0 && c.sendRemaining() < quota) {
		chunkLen := mss
		if chunkLen > quota {
			chunkLen = quota
		}
		offset, payload, done, answerFrameID, err := c.nextOutboundChunk(uint64(chunkLen))
		if err != nil {
			c.log.Errorf("read local data: %v", err)
			return
		}
		if payload == nil && !done {
			return
		}
		if len(payload) > 0 {
			id := c.sendLog.ReserveID()
			df := &wire.DataFrame{FrameID: id, Offset: offset, Length: uint64(len(payload)), Payload: payload}
			c.sendTracked(id, df)
			metrics.BytesTransferred.WithLabelValues("out").Add(float64(len(payload)))
			quota -= protocol.ByteCount(len(payload))
		}
		if done {
			c.sendReadOrWriteCompletionAnswer(answerFrameID)
			return
		}
		if len(payload) == 0 {
			return
		}
	}
}

func (c *Connection) sendRemaining() protocol.ByteCount {
	if c.perspective == protocol.PerspectiveServer && c.handler != nil && c.handler.HasActiveSend() {
		return 1 // unknown exact remainder from here; let the loop take one more pass
	}
	if c.clientSend != nil {
		return c.clientSend.Remaining()
	}
	return 0
}

// nextOutboundChunk pulls one chunk from whichever transfer is active.
// answerFrameID is only meaningful when done is true.
func (c *Connection) nextOutboundChunk(maxLen uint64) (offset uint64, payload []byte, done bool, answerFrameID protocol.FrameID, err error) {
	if c.perspective == protocol.PerspectiveServer {
		if !c.handler.HasActiveSend() {
			return 0, nil, false, 0, nil
		}
		id := c.handler.SendFrameID()
		offset, payload, done, err = c.handler.NextSendChunk(maxLen)
		return offset, payload, done, id, err
	}
	if c.clientSend == nil {
		return 0, nil, false, 0, nil
	}
	id := c.clientSendFrameID
	offset, payload, err = c.clientSend.NextChunk(protocol.ByteCount(maxLen))
	if err != nil {
		c.clientSend = nil
		return 0, nil, true, id, err
	}
	done = c.clientSend.Done()
	if done {
		c.clientSend = nil
	}
	return offset, payload, done, id, nil
}

func (c *Connection) sendReadOrWriteCompletionAnswer(cmdFrameID protocol.FrameID) {
	if c.perspective == protocol.PerspectiveServer {
		// Answer(Read): the server just finished streaming.
		af := &wire.AnswerFrame{
			FrameID:     cmdFrameID,
			CommandType: wire.CommandRead,
			Payload:     wire.NewStatusAnswerPayload(wire.CommandRead, uint8(rfterr.NoError), ""),
		}
		c.sendUntracked(af)
		return
	}
	// Client finished sending a Write: nothing to send here, Answer(Write)
	// arrives from the server once it has verified completion.
}

func (c *Connection) sendZeroWindowProbe() {
	id := c.sendLog.ReserveID()
	df := &wire.DataFrame{FrameID: id, Offset: 0, Length: 0, Payload: nil}
	c.sendTracked(id, df)
}

// handleRequest services a client-side convenience call (Read, Write,
// List, Delete, Stat, Exit): it sends the Command frame and, for
// Read/Write, opens the local transfer side.
func (c *Connection) handleRequest(req commandRequest) {
	if c.getState() != stateOpen {
		req.result <- commandOutcome{err: fmt.Errorf("rft: connection is not open")}
		return
	}

	// A Write with an unspecified length is resolved against the local
	// file's actual size before the Command frame is built, since the
	// server preallocates from the Length field the instant it parses
	// the command.
	if p, ok := req.payload.(wire.WriteCmdPayload); ok && p.Length == 0 {
		info, err := c.clientFS.Stat(req.localPath)
		if err != nil {
			req.result <- commandOutcome{err: err}
			return
		}
		p.Length = uint64(info.Size)
		req.payload = p
	}

	id := c.sendLog.ReserveID()
	cf := &wire.CommandFrame{FrameID: id, CommandType: req.commandType, Payload: req.payload}
	c.sendTracked(id, cf)

	c.pendingMu.Lock()
	c.pending[id] = req.result
	c.pendingMu.Unlock()

	switch p := req.payload.(type) {
	case wire.ReadCmdPayload:
		r, err := transfer.NewReceive(c.clientFS, req.localPath, p.Offset, p.Length, req.expectedCRC)
		if err != nil {
			c.resolvePending(id, commandOutcome{err: err})
			return
		}
		c.clientRecv = r
		c.clientRecvFrameID = id
	case wire.WriteCmdPayload:
		c.clientSend = transfer.NewSend(c.clientFS, req.localPath, p.Offset, p.Length)
		c.clientSendFrameID = id
	}
}

// doCommand is the blocking helper every exported client method uses.
func (c *Connection) doCommand(ctx context.Context, ct wire.CommandType, payload wire.CommandPayload, localPath string, expectedCRC uint32) (wire.AnswerPayload, error) {
	result := make(chan commandOutcome, 1)
	req := commandRequest{commandType: ct, payload: payload, localPath: localPath, expectedCRC: expectedCRC, result: result}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.doneCh:
		return nil, fmt.Errorf("rft: connection closed")
	}
	select {
	case out := <-result:
		return out.answer, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.doneCh:
		return nil, fmt.Errorf("rft: connection closed")
	}
}
