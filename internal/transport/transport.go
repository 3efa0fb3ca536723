// Package transport provides the network links that carry NNP frames
// between nodes. A link is a single ordered byte stream with optional
// TLS state attached; there is no stream multiplexing, one connection
// carries exactly one peer session.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"
)

// TransportType identifies a transport protocol.
type TransportType string

// Supported transport types
const (
	TransportTCP       TransportType = "tcp"
	TransportQUIC      TransportType = "quic"
	TransportWebSocket TransportType = "ws"
)

// ParseTransportType converts a config string into a TransportType.
func ParseTransportType(s string) (TransportType, error) {
	switch TransportType(s) {
	case TransportTCP, TransportQUIC, TransportWebSocket:
		return TransportType(s), nil
	default:
		return "", fmt.Errorf("unknown transport type: %q", s)
	}
}

// Transport abstracts a transport protocol (TCP, QUIC, WebSocket).
type Transport interface {
	// Dial connects to a remote node.
	Dial(ctx context.Context, addr string, opts DialOptions) (Conn, error)

	// Listen accepts connections from remote nodes.
	Listen(addr string, opts ListenOptions) (Listener, error)

	// Type returns the transport type.
	Type() TransportType

	// Close shuts down the transport and all its listeners.
	Close() error
}

// Listener accepts incoming peer connections.
type Listener interface {
	// Accept waits for and returns the next connection.
	Accept(ctx context.Context) (Conn, error)

	// Addr returns the listener's bound address.
	Addr() net.Addr

	// Close stops the listener.
	Close() error
}

// Conn is an established link to a peer carrying raw frame bytes.
// Reads and writes are ordered and reliable; the framing layer above
// supplies message boundaries.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	// LocalAddr returns the local endpoint address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote endpoint address.
	RemoteAddr() net.Addr

	// ConnectionState reports the TLS state of the link. ok is false
	// when the link is plaintext.
	ConnectionState() (state tls.ConnectionState, ok bool)

	// IsDialer reports whether this side initiated the connection.
	IsDialer() bool

	// TransportType returns the transport protocol carrying the link.
	TransportType() TransportType

	// SetDeadline sets both read and write deadlines.
	SetDeadline(t time.Time) error

	// SetReadDeadline sets the deadline for future reads.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the deadline for future writes.
	SetWriteDeadline(t time.Time) error
}

// DialOptions configures outgoing connections.
type DialOptions struct {
	// TLSConfig is the client TLS configuration. nil dials a plaintext
	// link; only TCP supports that, QUIC and WebSocket require TLS.
	TLSConfig *tls.Config

	// Timeout bounds connection establishment including the TLS
	// handshake. Zero relies on the caller's context alone.
	Timeout time.Duration
}

// ListenOptions configures listeners.
type ListenOptions struct {
	// TLSConfig is the server TLS configuration. nil accepts plaintext
	// links; only TCP supports that, QUIC and WebSocket require TLS.
	TLSConfig *tls.Config

	// MaxConnections caps concurrently accepted connections.
	// Zero means no limit.
	MaxConnections int

	// Path is the HTTP path serving WebSocket upgrades. Ignored by
	// other transports.
	Path string
}

// DefaultDialOptions returns sensible defaults for dialing.
func DefaultDialOptions() DialOptions {
	return DialOptions{
		Timeout: 30 * time.Second,
	}
}

// New returns a transport implementation for the given type.
func New(typ TransportType) (Transport, error) {
	switch typ {
	case TransportTCP:
		return NewTCPTransport(), nil
	case TransportQUIC:
		return NewQUICTransport(), nil
	case TransportWebSocket:
		return NewWebSocketTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport type: %q", typ)
	}
}
