package simulator

import (
	"bytes"
	"encoding/gob"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ConnState is the reliable-connection lifecycle; transitions are
// monotone toward Closed.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ErrConnectionClosed is returned by Write/Read once a Connection has
// been closed by either peer.
var ErrConnectionClosed = errors.New("simulator: connection closed")

type frameKind uint8

const (
	frameSyn frameKind = iota
	frameSynAck
	frameAck
	frameData
	frameDataAck
	frameFin
	frameFinAck
)

type frame struct {
	Kind    frameKind
	ConnID  string
	Seq     uint64
	Payload []byte
}

func encodeFrame(f frame) []byte {
	var buf bytes.Buffer
	// gob encoding of a small, internally-controlled struct cannot fail.
	_ = gob.NewEncoder(&buf).Encode(f)
	return buf.Bytes()
}

func decodeFrame(b []byte) (frame, bool) {
	var f frame
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&f); err != nil {
		return frame{}, false
	}
	return f, true
}

type connKey struct {
	localPort  int
	remoteNode NodeID
	remotePort int
}

// maxRetransmits bounds Connect's and Write's retry loops. Close sends
// its FIN once and does not retransmit.
const maxRetransmits = 5

// Listener is a bound server-side port accepting incoming connections.
type Listener struct {
	sim         *Simulator
	n           *node
	port        int
	acceptQueue chan *Connection

	mu      sync.Mutex
	pending map[connKey]*Connection // mid-handshake, not yet accepted
}

// Bind creates a Listener on (nodeID, port), failing with ErrPortInUse if
// one already exists there.
func (s *Simulator) Bind(nodeID NodeID, port int) (*Listener, error) {
	s.mu.Lock()
	n := s.ensureNodeLocked(nodeID)
	s.mu.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.portDemux[port]; exists {
		return nil, ErrPortInUse
	}
	l := &Listener{sim: s, n: n, port: port, acceptQueue: make(chan *Connection, 16), pending: make(map[connKey]*Connection)}
	n.listeners[port] = l
	n.portDemux[port] = l.handleDatagram
	return l, nil
}

// handleDatagram demultiplexes incoming frames on the listening port:
// SYNs start a new handshake, ACKs complete one and hand the Connection
// to Accept, and anything else is forwarded to an already-established
// Connection sharing this port.
func (l *Listener) handleDatagram(msg Message) bool {
	f, ok := decodeFrame(msg.Payload)
	if !ok {
		return false
	}
	key := connKey{localPort: l.port, remoteNode: msg.Src.Node, remotePort: msg.Src.Port}

	switch f.Kind {
	case frameSyn:
		l.mu.Lock()
		conn, exists := l.pending[key]
		if !exists {
			conn = newConnection(l.sim, Endpoint{l.n.id, l.port}, msg.Src, f.ConnID, true)
			l.pending[key] = conn
		}
		l.mu.Unlock()
		l.sim.Send(conn.local, conn.remote, encodeFrame(frame{Kind: frameSynAck, ConnID: f.ConnID}))
		return true

	case frameAck:
		l.mu.Lock()
		conn, exists := l.pending[key]
		if exists {
			delete(l.pending, key)
		}
		l.mu.Unlock()
		if !exists || conn.connID != f.ConnID {
			return true
		}
		l.n.mu.Lock()
		l.n.connections[key] = conn
		l.n.mu.Unlock()
		conn.setState(StateOpen)
		go conn.readLoop()
		select {
		case l.acceptQueue <- conn:
		default:
		}
		return true

	default:
		l.n.mu.Lock()
		conn, exists := l.n.connections[key]
		l.n.mu.Unlock()
		if !exists {
			return false
		}
		conn.recvFrame(f)
		return true
	}
}

// Accept blocks until a client completes its handshake, or timeout
// elapses.
func (l *Listener) Accept(timeout time.Duration) (*Connection, error) {
	select {
	case conn := <-l.acceptQueue:
		return conn, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// Close removes the listener's port binding. Established connections
// accepted from it are unaffected.
func (l *Listener) Close() {
	l.n.mu.Lock()
	delete(l.n.portDemux, l.port)
	delete(l.n.listeners, l.port)
	l.n.mu.Unlock()
}

// Connection is a reliable, ordered byte stream over the datagram
// substrate.
type Connection struct {
	sim          *Simulator
	local, remote Endpoint
	connID       string
	isServerSide bool

	state atomic.Int32

	mu          sync.Mutex
	writeSeq    uint64
	pendingAcks map[uint64]chan struct{}

	recvCh chan frame
	dataCh chan []byte

	readBuf    map[uint64][]byte
	nextRead   uint64

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newConnection(sim *Simulator, local, remote Endpoint, connID string, serverSide bool) *Connection {
	c := &Connection{
		sim: sim, local: local, remote: remote, connID: connID, isServerSide: serverSide,
		pendingAcks: make(map[uint64]chan struct{}),
		recvCh:      make(chan frame, 64),
		dataCh:      make(chan []byte, 64),
		readBuf:     make(map[uint64][]byte),
		closedCh:    make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Connection) setState(s ConnState) { c.state.Store(int32(s)) }

// State reports the connection's current lifecycle state.
func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

// LocalEndpoint and RemoteEndpoint expose the connection's addressing, so
// a server-side accept can be checked against the client's local
// endpoint.
func (c *Connection) LocalEndpoint() Endpoint  { return c.local }
func (c *Connection) RemoteEndpoint() Endpoint { return c.remote }

// recvFrame is invoked by the owning node's demux on every frame matching
// this connection, off the simulator's delivery goroutine — it must not
// block.
func (c *Connection) recvFrame(f frame) {
	select {
	case c.recvCh <- f:
	default:
		// Inbound queue saturated; drop, mirroring a real congested
		// receive buffer. The sender's retransmit will recover it.
	}
}

// readLoop processes inbound frames after the handshake completes:
// reordering Data frames by sequence, ACKing writes, and handling Fin.
func (c *Connection) readLoop() {
	for {
		select {
		case f := <-c.recvCh:
			switch f.Kind {
			case frameData:
				c.mu.Lock()
				c.readBuf[f.Seq] = f.Payload
				for {
					payload, ok := c.readBuf[c.nextRead]
					if !ok {
						break
					}
					delete(c.readBuf, c.nextRead)
					c.nextRead++
					select {
					case c.dataCh <- payload:
					default:
					}
				}
				c.mu.Unlock()
				c.sim.Send(c.local, c.remote, encodeFrame(frame{Kind: frameDataAck, ConnID: c.connID, Seq: f.Seq}))

			case frameDataAck:
				c.mu.Lock()
				if ch, ok := c.pendingAcks[f.Seq]; ok {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
				c.mu.Unlock()

			case frameFin:
				c.sim.Send(c.local, c.remote, encodeFrame(frame{Kind: frameFinAck, ConnID: c.connID}))
				c.finalizeClosed()
				return

			case frameFinAck:
				c.finalizeClosed()
				return
			}
		case <-c.closedCh:
			return
		}
	}
}

func (c *Connection) finalizeClosed() {
	c.setState(StateClosed)
	c.closeOnce.Do(func() { close(c.closedCh) })
}

// Write segments data into one ordered frame with a monotonically
// increasing sequence number and retransmits it, bounded, until it is
// acknowledged or the deadline elapses.
func (c *Connection) Write(data []byte, timeout time.Duration) (bool, error) {
	if c.State() != StateOpen {
		return false, ErrConnectionClosed
	}
	c.mu.Lock()
	seq := c.writeSeq
	c.writeSeq++
	ackCh := make(chan struct{}, 1)
	c.pendingAcks[seq] = ackCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pendingAcks, seq)
		c.mu.Unlock()
	}()

	deadline := time.Now().Add(timeout)
	perAttempt := timeout / maxRetransmits
	if perAttempt <= 0 {
		perAttempt = timeout
	}
	for attempt := 0; attempt < maxRetransmits; attempt++ {
		if c.State() != StateOpen {
			return false, ErrConnectionClosed
		}
		c.sim.Send(c.local, c.remote, encodeFrame(frame{Kind: frameData, ConnID: c.connID, Seq: seq, Payload: data}))
		wait := perAttempt
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			break
		}
		select {
		case <-ackCh:
			return true, nil
		case <-time.After(wait):
		case <-c.closedCh:
			return false, ErrConnectionClosed
		}
	}
	return false, ErrTimeout
}

// Read returns the next in-order payload frame.
func (c *Connection) Read(timeout time.Duration) ([]byte, error) {
	select {
	case payload := <-c.dataCh:
		return payload, nil
	case <-c.closedCh:
		select {
		case payload := <-c.dataCh:
			return payload, nil
		default:
			return nil, ErrConnectionClosed
		}
	case <-time.After(timeout):
		if c.State() == StateClosed {
			return nil, ErrConnectionClosed
		}
		return nil, ErrTimeout
	}
}

// Close sends a FIN and waits briefly for acknowledgment before marking
// the connection Closed either way. Subsequent Read/Write on either side
// fail with ErrConnectionClosed.
func (c *Connection) Close() {
	if c.State() == StateClosed {
		return
	}
	c.setState(StateClosing)
	c.sim.Send(c.local, c.remote, encodeFrame(frame{Kind: frameFin, ConnID: c.connID}))
	select {
	case <-c.closedCh:
	case <-time.After(200 * time.Millisecond):
		c.finalizeClosed()
	}
}

// newConnID generates the collision-resistant identifier Connect assigns
// to each new connection (google/uuid, see DESIGN.md).
func newConnID() string { return uuid.NewString() }

// Connect performs the SYN/SYN-ACK/ACK handshake against (remoteNode,
// remotePort), binding the local side to sourcePort (or an ephemeral port
// if 0), and returns an Open Connection on success.
func (s *Simulator) Connect(localNode NodeID, remoteNode NodeID, remotePort int, sourcePort int, timeout time.Duration) (*Connection, error) {
	s.mu.Lock()
	n := s.ensureNodeLocked(localNode)
	s.mu.Unlock()

	n.mu.Lock()
	localPort := sourcePort
	if localPort == 0 {
		localPort = n.allocEphemeralPortLocked()
	} else if _, taken := n.portDemux[localPort]; taken {
		n.mu.Unlock()
		return nil, ErrPortInUse
	}
	connID := newConnID()
	conn := newConnection(s, Endpoint{localNode, localPort}, Endpoint{remoteNode, remotePort}, connID, false)
	key := connKey{localPort: localPort, remoteNode: remoteNode, remotePort: remotePort}
	n.connections[key] = conn
	n.portDemux[localPort] = conn.handshakeDemux
	n.mu.Unlock()

	deadline := time.Now().Add(timeout)
	perAttempt := timeout / maxRetransmits
	if perAttempt <= 0 {
		perAttempt = timeout
	}
	for attempt := 0; attempt < maxRetransmits; attempt++ {
		s.Send(conn.local, conn.remote, encodeFrame(frame{Kind: frameSyn, ConnID: connID}))
		wait := perAttempt
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			break
		}
		select {
		case f := <-conn.recvCh:
			if f.Kind == frameSynAck && f.ConnID == connID {
				s.Send(conn.local, conn.remote, encodeFrame(frame{Kind: frameAck, ConnID: connID}))
				n.mu.Lock()
				n.portDemux[localPort] = conn.handleDatagram
				n.mu.Unlock()
				conn.setState(StateOpen)
				go conn.readLoop()
				return conn, nil
			}
		case <-time.After(wait):
		}
	}

	n.mu.Lock()
	delete(n.connections, key)
	delete(n.portDemux, localPort)
	n.mu.Unlock()
	return nil, ErrTimeout
}

// handshakeDemux is installed on the client's local port only until the
// handshake completes, after which handleDatagram (ongoing data/fin
// traffic) takes over.
func (c *Connection) handshakeDemux(msg Message) bool {
	f, ok := decodeFrame(msg.Payload)
	if !ok {
		return false
	}
	select {
	case c.recvCh <- f:
	default:
	}
	return true
}

// handleDatagram is the steady-state per-connection demux used once a
// connection (client or server side) is established on its local port.
func (c *Connection) handleDatagram(msg Message) bool {
	f, ok := decodeFrame(msg.Payload)
	if !ok {
		return false
	}
	c.recvFrame(f)
	return true
}
