// Package integration exercises multi-node axond pipelines end to
// end: real nodes built from configuration, speaking NNP over real
// sockets, observed through their control surfaces and compute units.
package integration

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/axonlab/axond/internal/certutil"
	"github.com/axonlab/axond/internal/config"
	"github.com/axonlab/axond/internal/control"
	"github.com/axonlab/axond/internal/dispatch"
	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/node"
	"github.com/axonlab/axond/internal/protocol"
	"github.com/axonlab/axond/internal/transport"
)

// testConfig returns a config suitable for fast local tests: quiet
// logs, aggressive reconnects, a throwaway data directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.LogLevel = "error"
	cfg.Reconnect.InitialDelay = 50 * time.Millisecond
	cfg.Reconnect.MaxDelay = 300 * time.Millisecond
	return cfg
}

// startNode builds and starts a node, stopping it when the test ends.
func startNode(t *testing.T, cfg *config.Config, unit dispatch.ComputeUnit) *node.Node {
	t.Helper()
	n, err := node.New(cfg, unit)
	if err != nil {
		t.Fatalf("node.New() error = %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

// withControl enables the control socket and returns its path.
func withControl(cfg *config.Config) string {
	cfg.Control.Enabled = true
	cfg.Control.SocketPath = filepath.Join(cfg.Node.DataDir, "control.sock")
	return cfg.Control.SocketPath
}

// nodeIdentity resolves the identity a node will assume for the given
// data directory, creating it if needed. Used to issue certificates
// before the node starts.
func nodeIdentity(t *testing.T, dataDir string) identity.NetworkID {
	t.Helper()
	id, _, err := identity.LoadOrCreate(dataDir)
	if err != nil {
		t.Fatalf("LoadOrCreate(%s) error = %v", dataDir, err)
	}
	return id
}

// listenerAddr returns the bound address of the node's i-th listener.
func listenerAddr(t *testing.T, n *node.Node, i int) string {
	t.Helper()
	addrs := n.ListenerAddrs()
	if i >= len(addrs) {
		t.Fatalf("node has %d listeners, want index %d", len(addrs), i)
	}
	return addrs[i].String()
}

// freePort reserves a TCP port and releases it for reuse. There is a
// small window in which another process could grab it, acceptable for
// local tests.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ===== Control socket observation =====

// peerCount polls the node's peer count, -1 when the socket does not
// answer. Safe inside waitFor conditions.
func peerCount(socketPath string) int {
	client := control.NewClient(socketPath)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		return -1
	}
	return st.PeerCount
}

func statusOf(t *testing.T, socketPath string) *control.StatusResponse {
	t.Helper()
	client := control.NewClient(socketPath)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status(%s) error = %v", socketPath, err)
	}
	return st
}

func peersOf(t *testing.T, socketPath string) []control.PeerInfo {
	t.Helper()
	client := control.NewClient(socketPath)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Peers(ctx)
	if err != nil {
		t.Fatalf("Peers(%s) error = %v", socketPath, err)
	}
	return resp.Peers
}

// ===== Test-side data source =====

// upstream feeds raw NNP frames into a node's listener, playing the
// role of the previous pipeline stage.
type upstream struct {
	t      *testing.T
	tr     transport.Transport
	conn   transport.Conn
	reader *protocol.FrameReader
	writer *protocol.FrameWriter
	seq    uint64

	localID    identity.NetworkID
	remoteID   identity.NetworkID
	remoteName string

	// granted is the capability set the listener granted us.
	granted protocol.Capability
}

type upstreamOptions struct {
	transport string              // default tcp
	name      string              // default test-source
	caps      protocol.Capability // capabilities to declare
	id        identity.NetworkID  // zero generates a fresh identity
	tlsConfig *tls.Config
}

// dialUpstream connects to addr and completes the session handshake.
func dialUpstream(t *testing.T, addr string, opts upstreamOptions) *upstream {
	t.Helper()

	if opts.transport == "" {
		opts.transport = "tcp"
	}
	if opts.name == "" {
		opts.name = "test-source"
	}
	id := opts.id
	if id.IsZero() {
		var err error
		id, err = identity.NewNetworkID()
		if err != nil {
			t.Fatalf("NewNetworkID() error = %v", err)
		}
	}

	typ, err := transport.ParseTransportType(opts.transport)
	if err != nil {
		t.Fatalf("ParseTransportType(%q) error = %v", opts.transport, err)
	}
	tr, err := transport.New(typ)
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := tr.Dial(ctx, addr, transport.DialOptions{
		TLSConfig: opts.tlsConfig,
		Timeout:   5 * time.Second,
	})
	if err != nil {
		tr.Close()
		t.Fatalf("Dial(%s) error = %v", addr, err)
	}

	u := &upstream{
		t:       t,
		tr:      tr,
		conn:    conn,
		reader:  protocol.NewFrameReader(conn),
		writer:  protocol.NewFrameWriter(conn),
		localID: id,
	}
	t.Cleanup(u.close)

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	hello := &protocol.Handshake{
		NetworkID:       id,
		Name:            opts.name,
		Capabilities:    opts.caps,
		ProtocolVersion: protocol.ProtocolVersion,
	}
	if err := u.writer.WriteMessage(hello, 0); err != nil {
		t.Fatalf("send announcement: %v", err)
	}

	ack := u.readMessage(protocol.MsgHandshakeAck).(*protocol.HandshakeAck)
	theirs := u.readMessage(protocol.MsgHandshake).(*protocol.Handshake)

	confirm := &protocol.HandshakeAck{
		NetworkID:            id,
		AcceptedCapabilities: theirs.Capabilities,
	}
	if err := u.writer.WriteMessage(confirm, 1); err != nil {
		t.Fatalf("confirm session: %v", err)
	}
	_ = conn.SetDeadline(time.Time{})

	u.seq = 2
	u.remoteID = theirs.NetworkID
	u.remoteName = theirs.Name
	u.granted = ack.AcceptedCapabilities
	return u
}

func (u *upstream) readMessage(want uint8) protocol.Message {
	u.t.Helper()
	frame, err := u.reader.Read()
	if err != nil {
		u.t.Fatalf("read %s: %v", protocol.MessageTypeName(want), err)
	}
	msg, err := protocol.DecodePayload(frame.Type, frame.Payload)
	if err != nil {
		u.t.Fatalf("decode %s: %v", protocol.MessageTypeName(frame.Type), err)
	}
	if frame.Type == protocol.MsgError {
		report := msg.(*protocol.ErrorMessage)
		u.t.Fatalf("listener rejected session: code %d: %s", report.Code, report.Detail)
	}
	if frame.Type != want {
		u.t.Fatalf("got %s frame, want %s",
			protocol.MessageTypeName(frame.Type), protocol.MessageTypeName(want))
	}
	return msg
}

func (u *upstream) next() uint64 {
	s := u.seq
	u.seq++
	return s
}

func (u *upstream) sendForward(layerID uint8, values []float32) {
	u.t.Helper()
	msg := &protocol.ForwardData{LayerID: layerID, Values: values}
	if err := u.writer.WriteMessage(msg, u.next()); err != nil {
		u.t.Fatalf("send forward: %v", err)
	}
}

func (u *upstream) sendHebbian(layerID uint8, rate float32, correlations []float32) {
	u.t.Helper()
	msg := &protocol.HebbianData{LayerID: layerID, LearningRate: rate, Correlations: correlations}
	if err := u.writer.WriteMessage(msg, u.next()); err != nil {
		u.t.Fatalf("send hebbian: %v", err)
	}
}

func (u *upstream) sendWeightSync(layerID uint8, weights, biases []float32) {
	u.t.Helper()
	msg := &protocol.WeightSync{LayerID: layerID, Weights: weights, Biases: biases}
	if err := u.writer.WriteMessage(msg, u.next()); err != nil {
		u.t.Fatalf("send weight sync: %v", err)
	}
}

// expectError reads frames until an error report arrives and asserts
// its code. Frames of other types, heartbeats included, are skipped.
func (u *upstream) expectError(code uint16, timeout time.Duration) *protocol.ErrorMessage {
	u.t.Helper()
	_ = u.conn.SetReadDeadline(time.Now().Add(timeout))
	defer u.conn.SetReadDeadline(time.Time{})

	for {
		frame, err := u.reader.Read()
		if err != nil {
			u.t.Fatalf("waiting for error report: %v", err)
		}
		if frame.Type != protocol.MsgError {
			continue
		}
		msg, err := protocol.DecodePayload(frame.Type, frame.Payload)
		if err != nil {
			u.t.Fatalf("decode error report: %v", err)
		}
		report := msg.(*protocol.ErrorMessage)
		if report.Code != code {
			u.t.Fatalf("error code = %d (%s), want %d", report.Code, report.Detail, code)
		}
		return report
	}
}

func (u *upstream) close() {
	u.conn.Close()
	u.tr.Close()
}

// ===== Certificates =====

// certFixture issues certificates from a shared test CA.
type certFixture struct {
	dir    string
	caPath string
	ca     *certutil.GeneratedCert
}

func newCertFixture(t *testing.T) *certFixture {
	t.Helper()
	dir := t.TempDir()
	ca, err := certutil.GenerateCA("integration CA", 24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateCA() error = %v", err)
	}
	caPath := filepath.Join(dir, "ca.crt")
	if err := os.WriteFile(caPath, ca.CertPEM, 0o600); err != nil {
		t.Fatalf("WriteFile(ca) error = %v", err)
	}
	return &certFixture{dir: dir, caPath: caPath, ca: ca}
}

// issue creates a certificate binding id with the given capability
// grant and returns the cert and key paths.
func (f *certFixture) issue(t *testing.T, name string, id identity.NetworkID, grant protocol.Capability) (string, string) {
	t.Helper()
	cert, err := certutil.GenerateNodeCert(id, name, grant, 24*time.Hour, f.ca)
	if err != nil {
		t.Fatalf("GenerateNodeCert(%s) error = %v", name, err)
	}
	certPath := filepath.Join(f.dir, name+".crt")
	keyPath := filepath.Join(f.dir, name+".key")
	if err := cert.SaveToFiles(certPath, keyPath); err != nil {
		t.Fatalf("SaveToFiles(%s) error = %v", name, err)
	}
	return certPath, keyPath
}

// enableTLS points cfg at an issued certificate for the node's own
// identity.
func (f *certFixture) enableTLS(t *testing.T, cfg *config.Config, name string, grant protocol.Capability) {
	t.Helper()
	id := nodeIdentity(t, cfg.Node.DataDir)
	certPath, keyPath := f.issue(t, name, id, grant)
	cfg.TLS.Enabled = true
	cfg.TLS.Cert = certPath
	cfg.TLS.Key = keyPath
	cfg.TLS.CA = f.caPath
}

// clientTLS builds the dial-side TLS configuration for a test
// upstream presenting the given certificate.
func (f *certFixture) clientTLS(t *testing.T, certPath, keyPath string) *tls.Config {
	t.Helper()
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadX509KeyPair() error = %v", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(f.ca.CertPEM)
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		RootCAs:      pool,
		Certificates: []tls.Certificate{pair},
		NextProtos:   []string{protocol.ALPN},
	}
}

// ===== Compute units =====

type learningCall struct {
	values []float64
	rate   float64
}

// recordingUnit captures forward passes and learning updates. A
// non-zero scale multiplies outputs, letting chain tests distinguish
// stages that computed from stages that relayed.
type recordingUnit struct {
	mu      sync.Mutex
	scale   float64
	inputs  [][]float64
	learned []learningCall
}

func (u *recordingUnit) Forward(values []float64) []float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inputs = append(u.inputs, append([]float64(nil), values...))
	if u.scale == 0 {
		return values
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * u.scale
	}
	return out
}

func (u *recordingUnit) ApplyLearning(values []float64, rate float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.learned = append(u.learned, learningCall{
		values: append([]float64(nil), values...),
		rate:   rate,
	})
}

func (u *recordingUnit) Inputs() [][]float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([][]float64(nil), u.inputs...)
}

func (u *recordingUnit) Learned() []learningCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]learningCall(nil), u.learned...)
}
