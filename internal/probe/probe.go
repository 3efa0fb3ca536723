// Package probe implements reachability testing for axond listeners.
//
// A probe dials a listener, completes a full NNP handshake under a
// throwaway identity and reports the listener's identity, declared
// capabilities and round-trip time. It backs the "axond probe"
// command and is useful for verifying a deployment before wiring a
// node's downstream configuration to it.
package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/axonlab/axond/internal/certutil"
	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/protocol"
	"github.com/axonlab/axond/internal/transport"
)

// DefaultTimeout bounds the whole probe, dial and handshake included.
const DefaultTimeout = 10 * time.Second

// Options configures a probe.
type Options struct {
	// Transport selects the transport to dial with: tcp, quic or ws.
	Transport string

	// Address is the listener address as host:port.
	Address string

	// Timeout bounds the whole probe. Zero means DefaultTimeout.
	Timeout time.Duration

	// TLS secures the dial on TCP. QUIC and WebSocket listeners are
	// always secured, so the flag is implied for those transports.
	TLS bool

	// Insecure skips server certificate verification.
	Insecure bool

	// CACert is an optional PEM bundle used to verify the listener
	// certificate instead of the system roots.
	CACert string

	// ClientCert and ClientKey optionally present a client
	// certificate. When the certificate carries a network identity
	// the probe announces itself under that identity, which is
	// required against listeners that pin peer IDs to certificates.
	ClientCert string
	ClientKey  string
}

// Result reports the outcome of a probe.
type Result struct {
	Success   bool
	Transport string
	Address   string

	// RemoteID and RemoteName identify the listener, set on success.
	RemoteID   string
	RemoteName string

	// Capabilities are the capability names the listener declared.
	Capabilities []string

	// LayerSizes is the listener's declared layer topology, if any.
	LayerSizes []uint16

	// RTT measures dial plus handshake.
	RTT time.Duration

	// Error and Detail describe the failure, set when Success is
	// false. Detail is a human-oriented classification of Error.
	Error  error
	Detail string
}

// Probe dials the listener described by opts and runs a handshake
// against it. The returned Result always has Transport and Address
// filled in; the error fields are set instead of returning an error
// so callers can render partial results.
func Probe(ctx context.Context, opts Options) *Result {
	res := &Result{
		Transport: opts.Transport,
		Address:   opts.Address,
	}
	fail := func(err error) *Result {
		res.Error = err
		res.Detail = classifyError(err)
		return res
	}

	typ, err := transport.ParseTransportType(opts.Transport)
	if err != nil {
		return fail(err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	probeID, err := ClientIdentity(opts)
	if err != nil {
		return fail(err)
	}
	tlsConf, err := ClientTLSConfig(opts, typ)
	if err != nil {
		return fail(err)
	}

	tr, err := transport.New(typ)
	if err != nil {
		return fail(err)
	}
	defer tr.Close()

	start := time.Now()
	conn, err := tr.Dial(ctx, opts.Address, transport.DialOptions{
		TLSConfig: tlsConf,
		Timeout:   opts.Timeout,
	})
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	hello, err := exchangeHandshake(ctx, conn, probeID)
	if err != nil {
		return fail(err)
	}

	res.Success = true
	res.RTT = time.Since(start)
	res.RemoteID = hello.NetworkID.String()
	res.RemoteName = hello.Name
	res.Capabilities = hello.Capabilities.Names()
	res.LayerSizes = hello.LayerSizes
	return res
}

// ClientIdentity picks the identity a client-side tool announces
// itself under. A client certificate with an embedded network ID wins,
// otherwise a fresh throwaway identity is generated.
func ClientIdentity(opts Options) (identity.NetworkID, error) {
	if opts.ClientCert != "" {
		info, err := certutil.GetCertInfoFromFile(opts.ClientCert)
		if err != nil {
			return identity.NetworkID{}, fmt.Errorf("client certificate: %w", err)
		}
		if info.NetworkID != "" {
			id, err := identity.ParseNetworkID(info.NetworkID)
			if err == nil {
				return id, nil
			}
		}
	}
	return identity.NewNetworkID()
}

// ClientTLSConfig assembles the TLS configuration for dialing a
// listener, or nil for a plaintext TCP dial. The bench command shares
// this with the probe.
func ClientTLSConfig(opts Options, typ transport.TransportType) (*tls.Config, error) {
	if typ == transport.TransportTCP && !opts.TLS {
		return nil, nil
	}

	conf := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{protocol.ALPN},
		InsecureSkipVerify: opts.Insecure,
	}
	if opts.CACert != "" {
		pemData, err := os.ReadFile(opts.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CACert)
		}
		conf.RootCAs = pool
	}
	if opts.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(opts.ClientCert, opts.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}

// exchangeHandshake runs the dialer side of the session handshake and
// returns the listener's announcement. The probe declares no
// capabilities, which leaves it restricted to session traffic and
// keeps a probe from ever being routed compute work.
func exchangeHandshake(ctx context.Context, conn transport.Conn, probeID identity.NetworkID) (*protocol.Handshake, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	reader := protocol.NewFrameReader(conn)
	writer := protocol.NewFrameWriter(conn)

	hello := &protocol.Handshake{
		NetworkID:       probeID,
		Name:            "probe",
		ProtocolVersion: protocol.ProtocolVersion,
	}
	if err := writer.WriteMessage(hello, 0); err != nil {
		return nil, fmt.Errorf("send announcement: %w", err)
	}

	ackMsg, err := readMessage(reader, protocol.MsgHandshakeAck)
	if err != nil {
		return nil, err
	}
	ack := ackMsg.(*protocol.HandshakeAck)

	helloMsg, err := readMessage(reader, protocol.MsgHandshake)
	if err != nil {
		return nil, err
	}
	theirs := helloMsg.(*protocol.Handshake)

	if !ack.NetworkID.Equal(theirs.NetworkID) {
		return nil, errors.New("listener acknowledgment and announcement disagree on identity")
	}

	confirm := &protocol.HandshakeAck{
		NetworkID:            probeID,
		AcceptedCapabilities: theirs.Capabilities,
	}
	if err := writer.WriteMessage(confirm, 1); err != nil {
		return nil, fmt.Errorf("confirm session: %w", err)
	}

	// Announce the teardown so the listener logs a clean disconnect
	// rather than a peer failure. Best effort, the session is done.
	_ = writer.WriteMessage(&protocol.Disconnect{Reason: "probe complete"}, 2)

	return theirs, nil
}

// readMessage reads one frame and decodes it, expecting the given
// message type. Error reports from the listener surface as errors.
func readMessage(r *protocol.FrameReader, want uint8) (protocol.Message, error) {
	frame, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", protocol.MessageTypeName(want), err)
	}
	msg, err := protocol.DecodePayload(frame.Type, frame.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", protocol.MessageTypeName(frame.Type), err)
	}
	switch frame.Type {
	case want:
		return msg, nil
	case protocol.MsgError:
		report := msg.(*protocol.ErrorMessage)
		return nil, fmt.Errorf("listener rejected probe: code %d: %s", report.Code, report.Detail)
	case protocol.MsgDisconnect:
		return nil, fmt.Errorf("listener disconnected: %s", msg.(*protocol.Disconnect).Reason)
	default:
		return nil, fmt.Errorf("unexpected %s frame during handshake", protocol.MessageTypeName(frame.Type))
	}
}

// classifyError turns a raw dial or handshake error into a short
// explanation suitable for terminal output.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("hostname %s did not resolve", dnsErr.Name)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection refused, no listener on that address"
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return "timed out, host unreachable or port filtered"
	}

	s := err.Error()
	switch {
	case strings.Contains(s, "certificate"):
		return "certificate verification failed: " + s
	case strings.Contains(s, "tls:"):
		return "TLS handshake failed: " + s
	case errors.Is(err, protocol.ErrBadMagic),
		errors.Is(err, protocol.ErrChecksumMismatch),
		errors.Is(err, protocol.ErrTruncated):
		return "listener is not speaking NNP"
	default:
		return s
	}
}
