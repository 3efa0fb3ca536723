package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
)

// tlsHandshakeTimeout bounds the server-side TLS handshake so a stalled
// client cannot hold an accept slot indefinitely.
const tlsHandshakeTimeout = 10 * time.Second

// TCPTransport implements Transport over TCP, optionally TLS-wrapped.
// It is the only transport that permits plaintext links; peers arriving
// without TLS are constrained to session traffic by the layer above.
type TCPTransport struct {
	mu        sync.Mutex
	listeners []*TCPListener
	closed    bool
}

// NewTCPTransport creates a new TCP transport.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// Type returns the transport type.
func (t *TCPTransport) Type() TransportType {
	return TransportTCP
}

// Dial connects to a remote peer over TCP. With a TLS config the
// handshake completes before Dial returns.
func (t *TCPTransport) Dial(ctx context.Context, addr string, opts DialOptions) (Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if opts.TLSConfig != nil {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{},
			Config:    opts.TLSConfig,
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tcp dial failed: %w", err)
		}
		return &TCPConn{Conn: conn, tlsConn: conn.(*tls.Conn), isDialer: true}, nil
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp dial failed: %w", err)
	}
	return &TCPConn{Conn: conn, isDialer: true}, nil
}

// Listen creates a TCP listener. MaxConnections is enforced at the
// socket level; excess dialers sit in the kernel backlog until a slot
// frees up.
func (t *TCPTransport) Listen(addr string, opts ListenOptions) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen failed: %w", err)
	}
	if opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, opts.MaxConnections)
	}

	tl := &TCPListener{
		ln:        ln,
		tlsConfig: opts.TLSConfig,
		connCh:    make(chan *TCPConn, 16),
		closeCh:   make(chan struct{}),
	}
	go tl.acceptLoop()

	t.listeners = append(t.listeners, tl)
	return tl, nil
}

// Close shuts down the transport and all listeners.
func (t *TCPTransport) Close() error {
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

// TCPListener implements Listener for TCP.
type TCPListener struct {
	ln        net.Listener
	tlsConfig *tls.Config
	connCh    chan *TCPConn
	closeCh   chan struct{}
	closed    atomic.Bool
}

// acceptLoop accepts raw connections and finishes TLS setup off the
// accept path, so one slow handshake cannot block the rest.
func (l *TCPListener) acceptLoop() {
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient accept failure (fd exhaustion and such).
			time.Sleep(100 * time.Millisecond)
			continue
		}
		go l.setup(raw)
	}
}

// setup wraps a raw connection in TLS when configured and hands it to
// Accept. Connections failing the TLS handshake are dropped.
func (l *TCPListener) setup(raw net.Conn) {
	conn := &TCPConn{Conn: raw}

	if l.tlsConfig != nil {
		tlsConn := tls.Server(raw, l.tlsConfig)
		ctx, cancel := context.WithTimeout(context.Background(), tlsHandshakeTimeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			tlsConn.Close()
			return
		}
		conn = &TCPConn{Conn: tlsConn, tlsConn: tlsConn}
	}

	select {
	case l.connCh <- conn:
	case <-l.closeCh:
		conn.Close()
	}
}

// Accept waits for and returns the next connection.
func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
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
func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops the listener.
func (l *TCPListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.closeCh)
	return l.ln.Close()
}

// TCPConn implements Conn over a TCP socket. When TLS is active the
// embedded net.Conn is the *tls.Conn itself.
type TCPConn struct {
	net.Conn
	tlsConn  *tls.Conn
	isDialer bool
}

// ConnectionState reports the TLS state of the link.
func (c *TCPConn) ConnectionState() (tls.ConnectionState, bool) {
	if c.tlsConn == nil {
		return tls.ConnectionState{}, false
	}
	return c.tlsConn.ConnectionState(), true
}

// IsDialer reports whether this side initiated the connection.
func (c *TCPConn) IsDialer() bool {
	return c.isDialer
}

// TransportType returns the transport protocol carrying the link.
func (c *TCPConn) TransportType() TransportType {
	return TransportTCP
}
