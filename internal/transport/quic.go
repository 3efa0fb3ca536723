package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/axonlab/axond/internal/protocol"
)

// Default QUIC configuration values
const (
	DefaultMaxIdleTimeout  = 60 * time.Second
	DefaultKeepAlivePeriod = 30 * time.Second

	// streamAcceptTimeout bounds how long an accepted connection may
	// take to open its frame stream before it is dropped.
	streamAcceptTimeout = 10 * time.Second
)

// QUICTransport implements Transport using QUIC. Each connection
// carries a single bidirectional stream with the frame byte stream;
// the dialer opens it, the acceptor waits for it.
type QUICTransport struct {
	mu        sync.Mutex
	listeners []*QUICListener
	closed    bool
}

// NewQUICTransport creates a new QUIC transport.
func NewQUICTransport() *QUICTransport {
	return &QUICTransport{}
}

// Type returns the transport type.
func (t *QUICTransport) Type() TransportType {
	return TransportQUIC
}

// Dial connects to a remote peer using QUIC and opens the frame stream.
func (t *QUICTransport) Dial(ctx context.Context, addr string, opts DialOptions) (Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	if opts.TLSConfig == nil {
		return nil, fmt.Errorf("quic transport requires a TLS config")
	}

	tlsConfig := opts.TLSConfig
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.NextProtos = []string{protocol.ALPN}
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:        DefaultMaxIdleTimeout,
		KeepAlivePeriod:       DefaultKeepAlivePeriod,
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: 0,
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic dial failed: %w", err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream open failed")
		return nil, fmt.Errorf("quic stream open failed: %w", err)
	}

	return &QUICConn{conn: conn, stream: stream, isDialer: true}, nil
}

// Listen creates a QUIC listener.
func (t *QUICTransport) Listen(addr string, opts ListenOptions) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		return nil, fmt.Errorf("quic listener requires a TLS config")
	}
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.NextProtos = []string{protocol.ALPN}
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:        DefaultMaxIdleTimeout,
		KeepAlivePeriod:       DefaultKeepAlivePeriod,
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: 0,
	}

	listener, err := quic.ListenAddr(addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic listen failed: %w", err)
	}

	ql := &QUICListener{
		listener: listener,
		maxConns: opts.MaxConnections,
		connCh:   make(chan *QUICConn, 16),
		closeCh:  make(chan struct{}),
	}
	go ql.acceptLoop()

	t.listeners = append(t.listeners, ql)
	return ql, nil
}

// Close shuts down the transport and all listeners.
func (t *QUICTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var lastErr error
	for _, l := range t.listeners {
		if err := l.Close(); err != nil {
			lastErr = err
		}
	}
	t.listeners = nil

	return lastErr
}

// QUICListener implements Listener for QUIC.
type QUICListener struct {
	listener *quic.Listener
	maxConns int
	active   atomic.Int32
	connCh   chan *QUICConn
	closeCh  chan struct{}
	closed   atomic.Bool
}

// acceptLoop accepts QUIC connections and waits for each one's frame
// stream off the accept path.
func (l *QUICListener) acceptLoop() {
	for {
		conn, err := l.listener.Accept(context.Background())
		if err != nil {
			return
		}
		if l.maxConns > 0 && int(l.active.Load()) >= l.maxConns {
			conn.CloseWithError(1, "connection limit reached")
			continue
		}
		l.active.Add(1)
		go l.setup(conn)
	}
}

// setup waits for the dialer's frame stream and hands the connection
// to Accept. A dialer that never opens the stream is dropped.
func (l *QUICListener) setup(conn quic.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), streamAcceptTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.active.Add(-1)
		conn.CloseWithError(0, "no frame stream")
		return
	}

	qc := &QUICConn{
		conn:    conn,
		stream:  stream,
		onClose: func() { l.active.Add(-1) },
	}

	select {
	case l.connCh <- qc:
	case <-l.closeCh:
		qc.Close()
	}
}

// Accept waits for and returns the next connection.
func (l *QUICListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, net.ErrClosed
	}
}

// Addr returns the listener's bound address.
func (l *QUICListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops the listener.
func (l *QUICListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.closeCh)
	return l.listener.Close()
}

// QUICConn implements Conn over a single bidirectional QUIC stream.
type QUICConn struct {
	conn     quic.Connection
	stream   quic.Stream
	isDialer bool
	onClose  func()
	closed   atomic.Bool
}

// Read reads frame bytes from the stream.
func (c *QUICConn) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

// Write writes frame bytes to the stream.
func (c *QUICConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

// Close terminates the stream and the QUIC connection.
func (c *QUICConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.onClose != nil {
		c.onClose()
	}
	c.stream.CancelRead(0)
	c.stream.Close()
	return c.conn.CloseWithError(0, "connection closed")
}

// LocalAddr returns the local address.
func (c *QUICConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote address.
func (c *QUICConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnectionState reports the TLS state of the link. QUIC links are
// always TLS.
func (c *QUICConn) ConnectionState() (tls.ConnectionState, bool) {
	return c.conn.ConnectionState().TLS, true
}

// IsDialer reports whether this side initiated the connection.
func (c *QUICConn) IsDialer() bool {
	return c.isDialer
}

// TransportType returns the transport protocol carrying the link.
func (c *QUICConn) TransportType() TransportType {
	return TransportQUIC
}

// SetDeadline sets read and write deadlines on the stream.
func (c *QUICConn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (c *QUICConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (c *QUICConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}
