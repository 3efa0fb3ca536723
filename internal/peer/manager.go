package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/axonlab/axond/internal/authz"
	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/logging"
	"github.com/axonlab/axond/internal/metrics"
	"github.com/axonlab/axond/internal/protocol"
	"github.com/axonlab/axond/internal/recovery"
	"github.com/axonlab/axond/internal/secure"
	"github.com/axonlab/axond/internal/transport"
)

const (
	DefaultDialTimeout       = 30 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHeartbeatTimeout  = 45 * time.Second
)

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	LocalID      identity.NetworkID
	Name         string
	LayerSizes   []uint16
	Capabilities protocol.Capability

	// MinVersion is the lowest peer protocol version accepted.
	MinVersion uint8

	// Channel provides TLS material and certificate verification. Nil
	// runs all sessions in plaintext.
	Channel *secure.Channel

	// FallbackGrant is applied to peers without a certificate grant.
	FallbackGrant protocol.Capability

	DialTimeout       time.Duration
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration

	// HeartbeatTimeout declares a peer dead when no frame arrived
	// within it. Should be a few multiples of HeartbeatInterval.
	HeartbeatTimeout time.Duration

	// ErrorThreshold and ErrorWindow bound malformed or denied messages
	// per peer before the session is throttled closed. An ErrorThreshold
	// of zero disables throttling.
	ErrorThreshold int
	ErrorWindow    time.Duration

	Reconnect ReconnectConfig

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// OnPeerConnected fires after a session reaches ESTABLISHED.
	OnPeerConnected func(*Connection)

	// OnPeerDisconnect fires once per session teardown. err is nil for
	// orderly disconnects.
	OnPeerDisconnect func(*Connection, error)

	// OnMessage receives authorized data messages. Session and control
	// messages are absorbed by the manager.
	OnMessage func(*Connection, protocol.Message)
}

// DefaultManagerConfig returns a config with the standard timing and
// throttling parameters.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DialTimeout:       DefaultDialTimeout,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		ErrorThreshold:    10,
		ErrorWindow:       30 * time.Second,
		Reconnect:         DefaultReconnectConfig(),
	}
}

// DownstreamPeer describes a configured outbound neighbor.
type DownstreamPeer struct {
	Address   string
	Transport transport.Transport

	// ExpectedID, when non-zero, pins the identity the peer must
	// declare during the handshake.
	ExpectedID identity.NetworkID
}

// Manager owns all peer sessions of a node. It accepts inbound
// connections, dials configured downstream peers, runs the per-session
// read and heartbeat loops and reconnects lost outbound links.
type Manager struct {
	cfg        ManagerConfig
	handshaker *Handshaker
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu         sync.RWMutex
	peers      map[identity.NetworkID]*Connection
	downstream map[string]DownstreamPeer

	reconnector *Reconnector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager. Zero timing fields take the
// package defaults.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		logger:     cfg.Logger.With(logging.KeyComponent, "peer"),
		metrics:    cfg.Metrics,
		peers:      make(map[identity.NetworkID]*Connection),
		downstream: make(map[string]DownstreamPeer),
		ctx:        ctx,
		cancel:     cancel,
	}
	m.handshaker = NewHandshaker(HandshakeConfig{
		LocalID:       cfg.LocalID,
		Name:          cfg.Name,
		LayerSizes:    cfg.LayerSizes,
		Capabilities:  cfg.Capabilities,
		MinVersion:    cfg.MinVersion,
		Timeout:       cfg.HandshakeTimeout,
		Channel:       cfg.Channel,
		FallbackGrant: cfg.FallbackGrant,
		Logger:        m.logger,
		Metrics:       cfg.Metrics,
	})
	m.reconnector = NewReconnector(cfg.Reconnect, m.logger, m.handleReconnect)
	return m
}

// LocalID returns this node's network identity.
func (m *Manager) LocalID() identity.NetworkID {
	return m.cfg.LocalID
}

// Serve accepts sessions from ln until the manager closes. The listener
// itself stays owned by the caller.
func (m *Manager) Serve(ln transport.Listener) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer recovery.RecoverWithLog(m.logger, "peer.accept")

		for {
			conn, err := ln.Accept(m.ctx)
			if err != nil {
				if m.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				m.logger.Warn("accept failed", logging.KeyError, err)
				continue
			}
			m.wg.Add(1)
			go m.handleInbound(conn)
		}
	}()
}

func (m *Manager) handleInbound(tc transport.Conn) {
	defer m.wg.Done()
	defer recovery.RecoverWithCleanup(m.logger, "peer.inbound", func() {
		tc.Close()
	})

	conn := NewConnection(tc, ConnectionConfig{LocalID: m.cfg.LocalID, Metrics: m.metrics})
	if _, err := m.handshaker.PerformHandshake(m.ctx, conn, identity.NetworkID{}); err != nil {
		m.logger.Warn("inbound handshake failed",
			logging.KeyRemoteAddr, conn.RemoteAddr(),
			logging.KeyTransport, string(tc.TransportType()),
			logging.KeyError, err)
		conn.Close()
		return
	}
	m.registerConnection(conn, "inbound")
}

// AddDownstream registers an outbound neighbor for Connect and
// reconnection.
func (m *Manager) AddDownstream(peer DownstreamPeer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downstream[peer.Address] = peer
}

// ConnectAll dials every configured downstream peer. Failures are logged
// here and retried in the background.
func (m *Manager) ConnectAll(ctx context.Context) {
	m.mu.RLock()
	addrs := make([]string, 0, len(m.downstream))
	for addr := range m.downstream {
		addrs = append(addrs, addr)
	}
	m.mu.RUnlock()

	for _, addr := range addrs {
		if _, err := m.Connect(ctx, addr); err != nil {
			m.logger.Warn("downstream connect failed",
				logging.KeyAddress, addr,
				logging.KeyError, err)
		}
	}
}

// Connect dials the configured downstream peer at addr and runs the
// handshake. On failure a reconnect attempt is scheduled.
func (m *Manager) Connect(ctx context.Context, addr string) (*Connection, error) {
	m.mu.RLock()
	info, ok := m.downstream[addr]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no downstream peer configured for %s", addr)
	}

	opts := transport.DialOptions{Timeout: m.cfg.DialTimeout}
	if m.cfg.Channel != nil {
		opts.TLSConfig = m.cfg.Channel.ClientTLSConfig(serverNameFor(addr))
	}

	tc, err := info.Transport.Dial(ctx, addr, opts)
	if err != nil {
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrDialTimeout, err)
		}
		m.scheduleReconnect(addr)
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	conn := NewConnection(tc, ConnectionConfig{LocalID: m.cfg.LocalID, Metrics: m.metrics})
	conn.SetConfigAddr(addr)
	if _, err := m.handshaker.PerformHandshake(ctx, conn, info.ExpectedID); err != nil {
		conn.Close()
		m.scheduleReconnect(addr)
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}

	m.registerConnection(conn, "outbound")
	return conn, nil
}

// registerConnection adopts an established session: it replaces any
// existing session for the same identity, starts the read and heartbeat
// loops and fires the connect callback.
func (m *Manager) registerConnection(conn *Connection, direction string) {
	if m.ctx.Err() != nil {
		conn.Close()
		return
	}

	m.mu.Lock()
	existing := m.peers[conn.RemoteID()]
	m.peers[conn.RemoteID()] = conn
	m.mu.Unlock()

	if existing != nil {
		m.closeConnection(existing, "replaced", nil)
	}
	if addr := conn.ConfigAddr(); addr != "" {
		m.reconnector.Cancel(addr)
	}

	if m.metrics != nil {
		m.metrics.RecordPeerConnect(string(conn.TransportType()), direction)
	}
	m.logger.Info("peer established",
		logging.KeyPeer, conn.RemoteID().ShortString(),
		logging.KeyPeerName, conn.RemoteName(),
		logging.KeyTransport, string(conn.TransportType()),
		logging.KeyRemoteAddr, conn.RemoteAddr(),
		"direction", direction,
		"granted", conn.RemoteCapabilities().Names(),
		"secured", conn.Secured())

	m.wg.Add(2)
	go m.readLoop(conn)
	go m.heartbeatLoop(conn)

	if m.cfg.OnPeerConnected != nil {
		m.cfg.OnPeerConnected(conn)
	}
}

// closeConnection tears a session down exactly once: removes it from the
// peer table, records the disconnect, fires the callback and schedules a
// reconnect for configured outbound links.
func (m *Manager) closeConnection(conn *Connection, reason string, cause error) {
	conn.Close()
	if conn.finalized.Swap(true) {
		return
	}

	m.mu.Lock()
	if cur, ok := m.peers[conn.RemoteID()]; ok && cur == conn {
		delete(m.peers, conn.RemoteID())
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordPeerDisconnect(reason)
	}
	attrs := []any{
		logging.KeyPeer, conn.RemoteID().ShortString(),
		logging.KeyReason, reason,
	}
	if cause != nil {
		attrs = append(attrs, logging.KeyError, cause)
	}
	m.logger.Info("peer disconnected", attrs...)

	if m.cfg.OnPeerDisconnect != nil {
		m.cfg.OnPeerDisconnect(conn, cause)
	}

	if addr := conn.ConfigAddr(); addr != "" && reason != "shutdown" && reason != "replaced" {
		m.scheduleReconnect(addr)
	}
}

// readLoop owns all reads on the session after establishment. Replayed
// frames are dropped without closing the session, framing violations
// close it, and repeated malformed or denied messages throttle it.
func (m *Manager) readLoop(conn *Connection) {
	defer m.wg.Done()
	// A panicking read loop still has a registered session to tear down
	defer recovery.RecoverWithCleanup(m.logger, "peer.read", func() {
		m.closeConnection(conn, "panic", nil)
	})

	select {
	case <-conn.Ready():
	case <-conn.Done():
		return
	case <-m.ctx.Done():
		m.closeConnection(conn, "shutdown", nil)
		return
	}

	budget := authz.NewErrorBudget(m.cfg.ErrorThreshold, m.cfg.ErrorWindow)

	for {
		select {
		case <-conn.Done():
			return
		case <-m.ctx.Done():
			m.closeConnection(conn, "shutdown", nil)
			return
		default:
		}

		frame, err := conn.reader.Read()
		if err != nil {
			m.handleReadError(conn, err)
			return
		}

		if conn.observeSequence(frame.Sequence) {
			m.logger.Warn("dropping replayed frame",
				logging.KeyPeer, conn.RemoteID().ShortString(),
				logging.KeySequence, frame.Sequence,
				logging.KeyMsgType, protocol.MessageTypeName(frame.Type))
			if m.metrics != nil {
				m.metrics.RecordSequenceReplay()
			}
			continue
		}

		conn.noteReceived(protocol.HeaderSize + len(frame.Payload))
		if m.metrics != nil {
			m.metrics.RecordFrameReceived(protocol.MessageTypeName(frame.Type), protocol.HeaderSize+len(frame.Payload))
		}

		msg, err := protocol.DecodePayload(frame.Type, frame.Payload)
		if err != nil {
			if m.metrics != nil {
				m.metrics.RecordFrameError("payload")
			}
			m.logger.Warn("malformed payload",
				logging.KeyPeer, conn.RemoteID().ShortString(),
				logging.KeyMsgType, protocol.MessageTypeName(frame.Type),
				logging.KeyError, err)
			_ = conn.SendError(protocol.ErrCodeProtocolViolation, "malformed payload")
			if !budget.Observe() {
				m.throttle(conn)
				return
			}
			continue
		}

		switch msg := msg.(type) {
		case *protocol.Heartbeat:
			if m.metrics != nil {
				m.metrics.RecordHeartbeatReceived()
			}

		case *protocol.Disconnect:
			m.logger.Info("peer requested disconnect",
				logging.KeyPeer, conn.RemoteID().ShortString(),
				logging.KeyReason, msg.Reason)
			m.closeConnection(conn, "disconnect", nil)
			return

		case *protocol.ErrorMessage:
			m.logger.Warn("peer reported error",
				logging.KeyPeer, conn.RemoteID().ShortString(),
				"code", msg.Code,
				"detail", msg.Detail)

		case *protocol.Handshake, *protocol.HandshakeAck:
			_ = conn.SendError(protocol.ErrCodeProtocolViolation, "unexpected handshake message")
			m.closeConnection(conn, "protocol_violation",
				fmt.Errorf("%w: %s after establishment",
					errHandshakeViolation, protocol.MessageTypeName(frame.Type)))
			return

		default:
			if err := authz.Check(conn.RemoteCapabilities(), frame.Type); err != nil {
				if m.metrics != nil {
					m.metrics.RecordAuthzDenial(protocol.MessageTypeName(frame.Type))
				}
				m.logger.Warn("denied data message",
					logging.KeyPeer, conn.RemoteID().ShortString(),
					logging.KeyMsgType, protocol.MessageTypeName(frame.Type),
					logging.KeyError, err)
				_ = conn.SendError(protocol.ErrCodeInsufficientCapabilities, err.Error())
				if !budget.Observe() {
					m.throttle(conn)
					return
				}
				continue
			}
			if m.cfg.OnMessage != nil {
				m.cfg.OnMessage(conn, msg)
			}
		}
	}
}

// handleReadError closes the session, as a protocol violation for
// framing failures and as an IO error otherwise.
func (m *Manager) handleReadError(conn *Connection, err error) {
	if errorType, violation := frameErrorType(err); violation {
		if m.metrics != nil {
			m.metrics.RecordFrameError(errorType)
		}
		_ = conn.SendError(protocol.ErrCodeProtocolViolation, err.Error())
		m.closeConnection(conn, "protocol_violation", err)
		return
	}
	m.closeConnection(conn, "io_error", err)
}

func frameErrorType(err error) (string, bool) {
	switch {
	case errors.Is(err, protocol.ErrBadMagic):
		return "magic", true
	case errors.Is(err, protocol.ErrChecksumMismatch):
		return "checksum", true
	case errors.Is(err, protocol.ErrUnsupportedVersion):
		return "version", true
	case errors.Is(err, protocol.ErrTruncated):
		return "truncated", true
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return "too_large", true
	default:
		return "", false
	}
}

func (m *Manager) throttle(conn *Connection) {
	if m.metrics != nil {
		m.metrics.RecordThrottle()
	}
	_ = conn.SendError(protocol.ErrCodeRateLimited, "error budget exhausted")
	m.closeConnection(conn, "throttled", errors.New("error budget exhausted"))
}

// heartbeatLoop sends periodic heartbeats and declares the peer dead
// when nothing arrived within the timeout. Any received frame counts as
// liveness, not just heartbeats.
func (m *Manager) heartbeatLoop(conn *Connection) {
	defer m.wg.Done()
	defer recovery.RecoverWithCleanup(m.logger, "peer.heartbeat", func() {
		m.closeConnection(conn, "panic", nil)
	})

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if conn.State() != StateEstablished {
				return
			}
			if silence := time.Since(conn.LastReceived()); silence > m.cfg.HeartbeatTimeout {
				if m.metrics != nil {
					m.metrics.RecordHeartbeatTimeout()
				}
				m.closeConnection(conn, "heartbeat_timeout",
					fmt.Errorf("%w: no frames for %s", ErrHeartbeatTimeout, silence.Round(time.Millisecond)))
				return
			}
			if err := conn.SendHeartbeat(); err != nil {
				m.closeConnection(conn, "io_error", fmt.Errorf("heartbeat send: %w", err))
				return
			}
			if m.metrics != nil {
				m.metrics.RecordHeartbeatSent()
			}
		}
	}
}

// Peer returns the session for id, or nil.
func (m *Manager) Peer(id identity.NetworkID) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peers[id]
}

// Peers returns a snapshot of all current sessions.
func (m *Manager) Peers() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.peers))
	for _, conn := range m.peers {
		out = append(out, conn)
	}
	return out
}

// PeerCount returns the number of current sessions.
func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// Downstreams returns the established outbound sessions. These are the
// connections this node dialed from its downstream configuration, and the
// targets forward-pass outputs fan out to.
func (m *Manager) Downstreams() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.peers))
	for _, conn := range m.peers {
		if conn.IsDialer() && conn.State() == StateEstablished {
			out = append(out, conn)
		}
	}
	return out
}

// SendToPeer sends msg to the session for id.
func (m *Manager) SendToPeer(id identity.NetworkID, msg protocol.Message) error {
	conn := m.Peer(id)
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, id.ShortString())
	}
	return conn.Send(msg)
}

// Broadcast sends msg to every established peer that accepted the
// capability it requires. It returns the number of peers reached.
func (m *Manager) Broadcast(msg protocol.Message) int {
	required, gated := authz.RequiredCapability(msg.MessageType())

	sent := 0
	for _, conn := range m.Peers() {
		if conn.State() != StateEstablished {
			continue
		}
		if gated && !conn.MaySend(required) {
			continue
		}
		if err := conn.Send(msg); err != nil {
			m.logger.Warn("broadcast send failed",
				logging.KeyPeer, conn.RemoteID().ShortString(),
				logging.KeyError, err)
			continue
		}
		sent++
	}
	return sent
}

func (m *Manager) scheduleReconnect(addr string) {
	if m.ctx.Err() != nil {
		return
	}
	m.reconnector.Schedule(addr)
}

// handleReconnect is the reconnector callback. Errors drive the next
// backoff step.
func (m *Manager) handleReconnect(addr string) error {
	if m.metrics != nil {
		m.metrics.RecordReconnectAttempt()
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout+m.cfg.HandshakeTimeout)
	defer cancel()
	_, err := m.Connect(ctx, addr)
	return err
}

// Close announces shutdown to all peers, tears every session down and
// waits for the loops to drain.
func (m *Manager) Close() error {
	m.cancel()
	m.reconnector.Stop()

	for _, conn := range m.Peers() {
		if conn.State() == StateEstablished {
			_ = conn.SendDisconnect("node shutting down")
		}
		m.closeConnection(conn, "shutdown", nil)
	}
	m.wg.Wait()
	return nil
}

// serverNameFor extracts the TLS server name from a dial address.
func serverNameFor(addr string) string {
	hostport := addr
	if strings.Contains(addr, "://") {
		if u, err := url.Parse(addr); err == nil && u.Host != "" {
			hostport = u.Host
		}
	}
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}
