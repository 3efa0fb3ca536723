package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
	"nhooyr.io/websocket"

	"github.com/axonlab/axond/internal/protocol"
)

// WebSocket transport constants
const (
	wsDefaultPath     = "/nnp"
	wsReadLimit       = protocol.MaxPayloadSize + 64
	wsShutdownTimeout = 5 * time.Second
)

// WebSocketTransport implements Transport using WebSocket over TLS.
// Binary messages carry chunks of the frame byte stream; message
// boundaries have no protocol meaning.
type WebSocketTransport struct {
	mu        sync.Mutex
	listeners []*WebSocketListener
	closed    bool
}

// NewWebSocketTransport creates a new WebSocket transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

// Type returns the transport type.
func (t *WebSocketTransport) Type() TransportType {
	return TransportWebSocket
}

// Dial connects to a remote peer using WebSocket over TLS. A bare
// host:port address dials wss://host:port with the default path; a
// full wss:// URL is used as-is.
func (t *WebSocketTransport) Dial(ctx context.Context, addr string, opts DialOptions) (Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	if opts.TLSConfig == nil {
		return nil, fmt.Errorf("websocket transport requires a TLS config")
	}

	wsURL := addr
	if !strings.HasPrefix(addr, "wss://") {
		wsURL = "wss://" + addr + wsDefaultPath
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{TLSClientConfig: opts.TLSConfig},
		Timeout:   opts.Timeout,
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient:   httpClient,
		Subprotocols: []string{protocol.ALPN},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	wc := &WebSocketConn{
		conn:     conn,
		isDialer: true,
		remote:   wsAddr(wsURL),
	}
	if resp != nil && resp.TLS != nil {
		wc.tlsState = resp.TLS
	}
	return wc, nil
}

// Listen creates a WebSocket listener backed by an HTTPS server.
func (t *WebSocketTransport) Listen(addr string, opts ListenOptions) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}

	if opts.TLSConfig == nil {
		return nil, fmt.Errorf("websocket listener requires a TLS config")
	}

	path := opts.Path
	if path == "" {
		path = wsDefaultPath
	}

	l := &WebSocketListener{
		addr:      addr,
		path:      path,
		tlsConfig: opts.TLSConfig,
		maxConns:  opts.MaxConnections,
		connCh:    make(chan *WebSocketConn, 16),
		closeCh:   make(chan struct{}),
	}
	if err := l.start(); err != nil {
		return nil, err
	}

	t.listeners = append(t.listeners, l)
	return l, nil
}

// Close shuts down the transport and all listeners.
func (t *WebSocketTransport) Close() error {
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

// WebSocketListener implements Listener for WebSocket.
type WebSocketListener struct {
	addr      string
	path      string
	tlsConfig *tls.Config
	maxConns  int
	server    *http.Server
	netLn     net.Listener
	connCh    chan *WebSocketConn
	closeCh   chan struct{}
	closed    atomic.Bool
}

// start brings up the HTTPS server serving upgrade requests.
func (l *WebSocketListener) start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(l.path, l.handleUpgrade)

	l.server = &http.Server{
		Handler:   mux,
		TLSConfig: l.tlsConfig,
	}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("websocket listen failed: %w", err)
	}
	if l.maxConns > 0 {
		ln = netutil.LimitListener(ln, l.maxConns)
	}
	l.netLn = ln

	go l.server.ServeTLS(ln, "", "")
	return nil
}

// handleUpgrade accepts WebSocket upgrade requests and hands the
// resulting connections to Accept.
func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if l.closed.Load() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{protocol.ALPN},
	})
	if err != nil {
		return
	}
	conn.SetReadLimit(wsReadLimit)

	wc := &WebSocketConn{
		conn:     conn,
		tlsState: r.TLS,
		remote:   wsAddr(r.RemoteAddr),
		local:    wsAddr(l.netLn.Addr().String()),
	}

	select {
	case l.connCh <- wc:
	case <-l.closeCh:
		conn.Close(websocket.StatusGoingAway, "server closed")
	}
}

// Accept waits for and returns the next connection.
func (l *WebSocketListener) Accept(ctx context.Context) (Conn, error) {
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
func (l *WebSocketListener) Addr() net.Addr {
	if l.netLn != nil {
		return l.netLn.Addr()
	}
	return nil
}

// Close stops the listener.
func (l *WebSocketListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.closeCh)

	ctx, cancel := context.WithTimeout(context.Background(), wsShutdownTimeout)
	defer cancel()
	return l.server.Shutdown(ctx)
}

// WebSocketConn implements Conn over a WebSocket session.
type WebSocketConn struct {
	conn     *websocket.Conn
	tlsState *tls.ConnectionState
	isDialer bool
	remote   net.Addr
	local    net.Addr

	// readMu guards the partially consumed message reader. Reads are
	// expected from a single goroutine; the mutex only keeps stale
	// state out when callers misbehave.
	readMu sync.Mutex
	reader io.Reader

	dlMu          sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time

	closed atomic.Bool
}

// Read reads frame bytes, pulling the next binary message when the
// current one is exhausted.
func (c *WebSocketConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.reader != nil {
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
		} else {
			return n, err
		}
	}

	ctx, cancel := c.opContext(c.deadline(&c.readDeadline))
	defer cancel()

	msgType, reader, err := c.conn.Reader(ctx)
	if err != nil {
		return 0, err
	}
	if msgType != websocket.MessageBinary {
		return 0, fmt.Errorf("unexpected message type: %v", msgType)
	}

	n, err := reader.Read(p)
	if err == io.EOF {
		err = nil
	} else if err == nil {
		c.reader = reader
	}
	return n, err
}

// Write sends frame bytes as a single binary message.
func (c *WebSocketConn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}

	ctx, cancel := c.opContext(c.deadline(&c.writeDeadline))
	defer cancel()

	if err := c.conn.Write(ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close terminates the WebSocket connection.
func (c *WebSocketConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "connection closed")
}

// LocalAddr returns the local endpoint address.
func (c *WebSocketConn) LocalAddr() net.Addr {
	if c.local == nil {
		return wsAddr("")
	}
	return c.local
}

// RemoteAddr returns the remote endpoint address.
func (c *WebSocketConn) RemoteAddr() net.Addr {
	if c.remote == nil {
		return wsAddr("")
	}
	return c.remote
}

// ConnectionState reports the TLS state of the link.
func (c *WebSocketConn) ConnectionState() (tls.ConnectionState, bool) {
	if c.tlsState == nil {
		return tls.ConnectionState{}, false
	}
	return *c.tlsState, true
}

// IsDialer reports whether this side initiated the connection.
func (c *WebSocketConn) IsDialer() bool {
	return c.isDialer
}

// TransportType returns the transport protocol carrying the link.
func (c *WebSocketConn) TransportType() TransportType {
	return TransportWebSocket
}

// SetDeadline sets both read and write deadlines.
func (c *WebSocketConn) SetDeadline(t time.Time) error {
	c.dlMu.Lock()
	c.readDeadline = t
	c.writeDeadline = t
	c.dlMu.Unlock()
	return nil
}

// SetReadDeadline sets the read deadline. A read failing its deadline
// leaves the connection unusable, matching the websocket library's
// context semantics.
func (c *WebSocketConn) SetReadDeadline(t time.Time) error {
	c.dlMu.Lock()
	c.readDeadline = t
	c.dlMu.Unlock()
	return nil
}

// SetWriteDeadline sets the write deadline.
func (c *WebSocketConn) SetWriteDeadline(t time.Time) error {
	c.dlMu.Lock()
	c.writeDeadline = t
	c.dlMu.Unlock()
	return nil
}

func (c *WebSocketConn) deadline(field *time.Time) time.Time {
	c.dlMu.Lock()
	defer c.dlMu.Unlock()
	return *field
}

// opContext derives a context for one read or write honoring the
// stored deadline.
func (c *WebSocketConn) opContext(deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.Background(), func() {}
	}
	return context.WithDeadline(context.Background(), deadline)
}

// wsAddr carries the textual endpoint of a WebSocket link.
type wsAddr string

// Network returns the address network name.
func (a wsAddr) Network() string { return "ws" }

// String returns the address text.
func (a wsAddr) String() string { return string(a) }
