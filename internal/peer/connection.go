// Package peer manages the lifecycle of NNP peer sessions: the capability
// handshake, sequenced frame exchange, heartbeat liveness and reconnection.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/metrics"
	"github.com/axonlab/axond/internal/protocol"
	"github.com/axonlab/axond/internal/secure"
	"github.com/axonlab/axond/internal/transport"
)

var (
	// ErrDialTimeout indicates the transport dial exceeded its deadline.
	ErrDialTimeout = errors.New("dial timeout")

	// ErrHandshakeTimeout indicates the handshake did not complete in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrHeartbeatTimeout indicates the peer went silent past the liveness window.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")

	// ErrNotEstablished indicates a data send was attempted before the
	// handshake completed or after the session began closing.
	ErrNotEstablished = errors.New("session not established")

	// ErrConnectionClosed indicates the underlying connection is gone.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrPeerNotFound indicates no session exists for the given network ID.
	ErrPeerNotFound = errors.New("peer not found")
)

// State tracks the session lifecycle. Transitions are strictly forward:
// a session never re-enters an earlier state.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection is a single peer session over one transport connection.
// Reads are owned by the manager's read loop; writes are serialized
// through writeMu so concurrent senders cannot interleave frames or
// race the outgoing sequence counter.
type Connection struct {
	localID    identity.NetworkID
	remoteID   identity.NetworkID
	remoteName string
	layerSizes []uint16

	// declaredCaps is what the peer advertised in its Handshake.
	// remoteCaps is what we granted the peer (gates inbound data).
	// acceptedCaps is what the peer granted us (gates outbound data).
	declaredCaps protocol.Capability
	remoteCaps   protocol.Capability
	acceptedCaps protocol.Capability

	secured      bool
	peerIdentity *secure.PeerIdentity

	conn     transport.Conn
	isDialer bool

	// configAddr is the configured dial address, set only for outbound
	// sessions. Reconnection keys on it.
	configAddrMu sync.Mutex
	configAddr   string

	reader *protocol.FrameReader
	writer *protocol.FrameWriter

	writeMu sync.Mutex
	sendSeq uint64

	// highestSeq and seenFrame are touched only from the goroutine that
	// reads frames, so they need no lock.
	highestSeq uint64
	seenFrame  bool

	lastRecv atomic.Int64

	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64

	state     atomic.Int32
	metrics   *metrics.Metrics
	finalized atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
}

// ConnectionConfig carries the local node parameters a session needs.
type ConnectionConfig struct {
	LocalID identity.NetworkID
	Metrics *metrics.Metrics
}

// NewConnection wraps a transport connection in a session starting in
// the CONNECTING state.
func NewConnection(conn transport.Conn, cfg ConnectionConfig) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		localID:  cfg.LocalID,
		conn:     conn,
		isDialer: conn.IsDialer(),
		reader:   protocol.NewFrameReader(conn),
		writer:   protocol.NewFrameWriter(conn),
		metrics:  cfg.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
		ready:    make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.lastRecv.Store(time.Now().UnixNano())
	return c
}

// State returns the current session state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// advance moves the session to s if s is strictly later than the current
// state. It reports whether the transition happened. Backward or repeated
// transitions are rejected, which keeps the lifecycle monotonic even when
// close paths race.
func (c *Connection) advance(s State) bool {
	for {
		cur := c.state.Load()
		if int32(s) <= cur {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

// Send encodes msg into a frame stamped with the next outgoing sequence
// number and writes it. Sequence numbers start at zero and only advance
// when the write succeeds.
func (c *Connection) Send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() == StateClosed {
		return ErrConnectionClosed
	}

	frame := protocol.MessageFrame(msg, c.sendSeq)
	if err := c.writer.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", protocol.MessageTypeName(frame.Type), err)
	}
	c.sendSeq++

	size := protocol.HeaderSize + len(frame.Payload)
	c.framesSent.Add(1)
	c.bytesSent.Add(uint64(size))
	if c.metrics != nil {
		c.metrics.RecordFrameSent(protocol.MessageTypeName(frame.Type), size)
	}
	return nil
}

// SendForward pushes activations for a layer downstream.
func (c *Connection) SendForward(layerID uint8, values []float32) error {
	if err := c.requireEstablished(); err != nil {
		return err
	}
	return c.Send(&protocol.ForwardData{LayerID: layerID, Values: values})
}

// SendBackward pushes gradients for a layer upstream.
func (c *Connection) SendBackward(layerID uint8, gradients []float32) error {
	if err := c.requireEstablished(); err != nil {
		return err
	}
	return c.Send(&protocol.BackwardData{LayerID: layerID, Gradients: gradients})
}

// SendHebbian shares correlation data for local learning on the peer.
func (c *Connection) SendHebbian(layerID uint8, learningRate float32, correlations []float32) error {
	if err := c.requireEstablished(); err != nil {
		return err
	}
	return c.Send(&protocol.HebbianData{LayerID: layerID, LearningRate: learningRate, Correlations: correlations})
}

// SendWeightSync transfers a full weight matrix for a layer.
func (c *Connection) SendWeightSync(layerID uint8, weights, biases []float32) error {
	if err := c.requireEstablished(); err != nil {
		return err
	}
	return c.Send(&protocol.WeightSync{LayerID: layerID, Weights: weights, Biases: biases})
}

// SendHeartbeat emits a liveness probe with the current timestamp.
func (c *Connection) SendHeartbeat() error {
	if err := c.requireEstablished(); err != nil {
		return err
	}
	return c.Send(protocol.NewHeartbeat())
}

// SendDisconnect announces an orderly shutdown of this session.
func (c *Connection) SendDisconnect(reason string) error {
	return c.Send(&protocol.Disconnect{Reason: reason})
}

// SendError reports a protocol failure to the peer.
func (c *Connection) SendError(code uint16, detail string) error {
	return c.Send(&protocol.ErrorMessage{Code: code, Detail: detail})
}

func (c *Connection) requireEstablished() error {
	if s := c.State(); s != StateEstablished {
		return fmt.Errorf("%w: state is %s", ErrNotEstablished, s)
	}
	return nil
}

// observeSequence records an incoming sequence number and reports whether
// the frame is a replay. The first frame of a session is never a replay,
// sequence numbers start at zero.
func (c *Connection) observeSequence(seq uint64) (replayed bool) {
	if c.seenFrame && seq <= c.highestSeq {
		return true
	}
	c.seenFrame = true
	if seq > c.highestSeq {
		c.highestSeq = seq
	}
	return false
}

// noteReceived marks the session as alive now and accounts the frame of
// size bytes toward the session totals.
func (c *Connection) noteReceived(bytes int) {
	c.lastRecv.Store(time.Now().UnixNano())
	c.framesReceived.Add(1)
	c.bytesReceived.Add(uint64(bytes))
}

// LastReceived returns when the last frame arrived from the peer.
func (c *Connection) LastReceived() time.Time {
	return time.Unix(0, c.lastRecv.Load())
}

// Counters is a snapshot of per-session frame and byte totals.
type Counters struct {
	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	BytesReceived  uint64
}

// Counters returns the session's frame and byte totals so far.
func (c *Connection) Counters() Counters {
	return Counters{
		FramesSent:     c.framesSent.Load(),
		FramesReceived: c.framesReceived.Load(),
		BytesSent:      c.bytesSent.Load(),
		BytesReceived:  c.bytesReceived.Load(),
	}
}

// Close tears the session down. It is safe to call multiple times and
// from multiple goroutines.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.advance(StateClosing)
		c.advance(StateClosed)
		c.conn.Close()
		close(c.closed)
	})
	return nil
}

// CloseWithReason sends a Disconnect message before closing when the
// session is established. The send is best effort.
func (c *Connection) CloseWithReason(reason string) error {
	if c.State() == StateEstablished {
		_ = c.SendDisconnect(reason)
	}
	return c.Close()
}

// RemoteID returns the peer's verified network identity.
func (c *Connection) RemoteID() identity.NetworkID {
	return c.remoteID
}

// RemoteName returns the peer's human-readable node name.
func (c *Connection) RemoteName() string {
	return c.remoteName
}

// LayerSizes returns the layer topology the peer declared.
func (c *Connection) LayerSizes() []uint16 {
	out := make([]uint16, len(c.layerSizes))
	copy(out, c.layerSizes)
	return out
}

// DeclaredCapabilities returns the raw capability set from the peer's
// handshake, before any intersection.
func (c *Connection) DeclaredCapabilities() protocol.Capability {
	return c.declaredCaps
}

// RemoteCapabilities returns what this node granted the peer. Inbound
// data messages are gated on this set.
func (c *Connection) RemoteCapabilities() protocol.Capability {
	return c.remoteCaps
}

// AcceptedCapabilities returns what the peer granted this node. Outbound
// data messages are gated on this set.
func (c *Connection) AcceptedCapabilities() protocol.Capability {
	return c.acceptedCaps
}

// MaySend reports whether the peer accepted messages requiring cap.
func (c *Connection) MaySend(cap protocol.Capability) bool {
	return c.acceptedCaps.Has(cap)
}

// Secured reports whether the session runs over mutual TLS.
func (c *Connection) Secured() bool {
	return c.secured
}

// PeerIdentity returns the certificate-derived identity, nil for
// plaintext sessions.
func (c *Connection) PeerIdentity() *secure.PeerIdentity {
	return c.peerIdentity
}

// TransportType returns the carrier protocol of the session.
func (c *Connection) TransportType() transport.TransportType {
	return c.conn.TransportType()
}

// IsDialer reports whether this side initiated the connection.
func (c *Connection) IsDialer() bool {
	return c.isDialer
}

// LocalAddr returns the local endpoint address as a string.
func (c *Connection) LocalAddr() string {
	return addrToString(c.conn.LocalAddr())
}

// RemoteAddr returns the remote endpoint address as a string.
func (c *Connection) RemoteAddr() string {
	return addrToString(c.conn.RemoteAddr())
}

// ConfigAddr returns the configured dial address, empty for inbound
// sessions.
func (c *Connection) ConfigAddr() string {
	c.configAddrMu.Lock()
	defer c.configAddrMu.Unlock()
	return c.configAddr
}

// SetConfigAddr records the configured dial address for reconnection.
func (c *Connection) SetConfigAddr(addr string) {
	c.configAddrMu.Lock()
	defer c.configAddrMu.Unlock()
	c.configAddr = addr
}

// Done is closed when the session is fully closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// Ready is closed once the handshake completes and the session is
// established.
func (c *Connection) Ready() <-chan struct{} {
	return c.ready
}

func (c *Connection) markReady() {
	c.readyOnce.Do(func() {
		close(c.ready)
	})
}

// Context is canceled when the session closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) String() string {
	return fmt.Sprintf("Peer{id=%s, state=%s, addr=%s}", c.remoteID.ShortString(), c.State(), c.RemoteAddr())
}

func addrToString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
