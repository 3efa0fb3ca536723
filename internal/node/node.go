// Package node implements the axond daemon orchestration. A Node owns
// the transports, the peer manager, the dispatcher and the optional
// control and health servers, and wires them together from configuration.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axonlab/axond/internal/config"
	"github.com/axonlab/axond/internal/control"
	"github.com/axonlab/axond/internal/dispatch"
	"github.com/axonlab/axond/internal/health"
	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/logging"
	"github.com/axonlab/axond/internal/metrics"
	"github.com/axonlab/axond/internal/peer"
	"github.com/axonlab/axond/internal/protocol"
	"github.com/axonlab/axond/internal/recovery"
	"github.com/axonlab/axond/internal/secure"
	"github.com/axonlab/axond/internal/transport"
)

// Node is an axond daemon instance.
type Node struct {
	cfg     *config.Config
	id      identity.NetworkID
	dataDir string
	logger  *slog.Logger
	metrics *metrics.Metrics

	// channel holds the TLS material. Nil when TLS is disabled; all
	// sessions then run in plaintext with the fallback capability grant.
	channel *secure.Channel

	transports map[transport.TransportType]transport.Transport
	listeners  []transport.Listener

	peerMgr    *peer.Manager
	dispatcher *dispatch.Dispatcher

	controlServer *control.Server
	healthServer  *health.Server

	startedAt time.Time
	running   atomic.Bool
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a node from the given configuration. The compute unit is
// supplied by the caller and treated as a black box; nil runs the node
// as a relay with a PassthroughUnit.
func New(cfg *config.Config, unit dispatch.ComputeUnit) (*Node, error) {
	// Load or create the node identity
	var nodeID identity.NetworkID
	var err error

	// If config specifies an explicit ID (not "auto"), use it
	if cfg.Node.ID != "" && cfg.Node.ID != "auto" {
		nodeID, err = identity.ParseNetworkID(cfg.Node.ID)
		if err != nil {
			return nil, fmt.Errorf("parse node ID from config: %w", err)
		}
		// Store the config ID to the data directory for consistency
		if err := nodeID.Store(cfg.Node.DataDir); err != nil {
			return nil, fmt.Errorf("store node ID: %w", err)
		}
	} else {
		// Auto-generate or load from the data directory
		nodeID, _, err = identity.LoadOrCreate(cfg.Node.DataDir)
		if err != nil {
			return nil, fmt.Errorf("load identity: %w", err)
		}
	}

	logger := logging.NewLogger(cfg.Node.LogLevel, cfg.Node.LogFormat)

	n := &Node{
		cfg:     cfg,
		id:      nodeID,
		dataDir: cfg.Node.DataDir,
		logger:  logger,
		metrics: metrics.Default(),
	}

	if unit == nil {
		unit = dispatch.PassthroughUnit{}
	}
	if err := n.initComponents(unit); err != nil {
		return nil, err
	}

	return n, nil
}

// initComponents initializes all node components.
func (n *Node) initComponents(unit dispatch.ComputeUnit) error {
	// Secure channel, shared by all listeners and outbound dials
	if n.cfg.TLS.Enabled {
		ch, err := secure.NewChannel(secure.Options{
			CertFile:        n.cfg.TLS.Cert,
			KeyFile:         n.cfg.TLS.Key,
			CAFile:          n.cfg.TLS.CA,
			RevocationCheck: n.cfg.TLS.RevocationCheck,
			OCSPResponder:   n.cfg.TLS.OCSPResponder,
		}, n.logger)
		if err != nil {
			return fmt.Errorf("load TLS material: %w", err)
		}
		n.channel = ch
	}

	// One shared transport instance per protocol
	n.transports = make(map[transport.TransportType]transport.Transport)
	n.transports[transport.TransportTCP] = transport.NewTCPTransport()
	n.transports[transport.TransportQUIC] = transport.NewQUICTransport()
	n.transports[transport.TransportWebSocket] = transport.NewWebSocketTransport()

	caps, err := protocol.ParseCapabilities(n.cfg.Protocol.Capabilities)
	if err != nil {
		return fmt.Errorf("parse capabilities: %w", err)
	}
	fallback, err := protocol.ParseCapabilities(n.cfg.TLS.DefaultCapabilities)
	if err != nil {
		return fmt.Errorf("parse default capabilities: %w", err)
	}

	n.dispatcher = dispatch.New(dispatch.Config{
		Unit:            unit,
		HebbianLearning: n.cfg.Compute.HebbianLearning,
		LearningRate:    n.cfg.Compute.LearningRate,
		Downstreams:     n.downstreamSenders,
		Logger:          n.logger,
		Metrics:         n.metrics,
	})

	peerCfg := peer.DefaultManagerConfig()
	peerCfg.LocalID = n.id
	peerCfg.Name = n.cfg.Node.Name
	peerCfg.LayerSizes = n.cfg.Node.Layers
	peerCfg.Capabilities = caps
	peerCfg.MinVersion = n.cfg.Protocol.MinVersion
	peerCfg.Channel = n.channel
	peerCfg.FallbackGrant = fallback
	peerCfg.DialTimeout = n.cfg.Protocol.DialTimeout
	peerCfg.HandshakeTimeout = n.cfg.Protocol.HandshakeTimeout
	peerCfg.HeartbeatInterval = n.cfg.Protocol.HeartbeatInterval
	peerCfg.HeartbeatTimeout = n.cfg.Protocol.HeartbeatTimeout
	peerCfg.ErrorThreshold = n.cfg.Protocol.ErrorThreshold
	peerCfg.ErrorWindow = n.cfg.Protocol.ErrorWindow
	peerCfg.Reconnect = peer.ReconnectConfig{
		InitialDelay: n.cfg.Reconnect.InitialDelay,
		MaxDelay:     n.cfg.Reconnect.MaxDelay,
		Multiplier:   n.cfg.Reconnect.Multiplier,
		Jitter:       n.cfg.Reconnect.Jitter,
		MaxAttempts:  n.cfg.Reconnect.MaxRetries,
	}
	peerCfg.Logger = n.logger
	peerCfg.Metrics = n.metrics
	peerCfg.OnMessage = func(conn *peer.Connection, msg protocol.Message) {
		n.dispatcher.Dispatch(conn, msg)
	}
	n.peerMgr = peer.NewManager(peerCfg)

	// Register downstream peers for dialing and reconnection
	for _, ds := range n.cfg.Downstream {
		var expectedID identity.NetworkID
		if ds.ID != "" && ds.ID != "auto" {
			expectedID, err = identity.ParseNetworkID(ds.ID)
			if err != nil {
				return fmt.Errorf("parse downstream ID %q: %w", ds.ID, err)
			}
		}
		typ, err := transport.ParseTransportType(ds.Transport)
		if err != nil {
			return fmt.Errorf("downstream %s: %w", ds.Address, err)
		}
		n.peerMgr.AddDownstream(peer.DownstreamPeer{
			Address:    ds.Address,
			Transport:  n.transports[typ],
			ExpectedID: expectedID,
		})
	}

	if n.cfg.Control.Enabled {
		ctrlCfg := control.DefaultServerConfig()
		ctrlCfg.SocketPath = n.cfg.Control.SocketPath
		if ctrlCfg.SocketPath == "" {
			ctrlCfg.SocketPath = filepath.Join(n.dataDir, "control.sock")
		}
		n.controlServer = control.NewServer(ctrlCfg, &controlInfo{node: n})
	}

	if n.cfg.Health.Enabled {
		healthCfg := health.ServerConfig{
			Address:          n.cfg.Health.Address,
			ReadTimeout:      n.cfg.Health.ReadTimeout,
			WriteTimeout:     n.cfg.Health.WriteTimeout,
			AuthPasswordHash: n.cfg.Health.AuthPasswordHash,
		}
		provider := &healthStats{node: n}
		n.healthServer = health.NewServer(healthCfg, provider)
	}

	return nil
}

// downstreamSenders snapshots the established outbound sessions as
// fan-out targets for the dispatcher.
func (n *Node) downstreamSenders() []dispatch.Sender {
	conns := n.peerMgr.Downstreams()
	out := make([]dispatch.Sender, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// Start starts all node components.
func (n *Node) Start() error {
	if n.running.Load() {
		return fmt.Errorf("node already running")
	}

	n.running.Store(true)
	n.startedAt = time.Now()

	n.logger.Info("starting node",
		logging.KeyNetworkID, n.id.ShortString(),
		logging.KeyComponent, "node")

	// Start listeners
	for _, lnCfg := range n.cfg.Listeners {
		if err := n.startListener(lnCfg); err != nil {
			n.logger.Error("failed to start listener",
				logging.KeyAddress, lnCfg.Address,
				logging.KeyTransport, lnCfg.Transport,
				logging.KeyError, err)
			n.running.Store(false)
			return fmt.Errorf("start listener %s: %w", lnCfg.Address, err)
		}
		n.logger.Info("listener started",
			logging.KeyAddress, lnCfg.Address,
			logging.KeyTransport, lnCfg.Transport)
	}

	// Dial configured downstream peers. Failures here are logged and
	// retried by the reconnector; they do not fail startup.
	if len(n.cfg.Downstream) > 0 {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			defer recovery.RecoverWithLog(n.logger, "node.dial")
			n.peerMgr.ConnectAll(context.Background())
		}()
	}

	if n.controlServer != nil {
		if err := n.controlServer.Start(); err != nil {
			n.logger.Error("failed to start control server",
				"socket", n.controlServer.SocketPath(),
				logging.KeyError, err)
			n.running.Store(false)
			return fmt.Errorf("start control server: %w", err)
		}
		n.logger.Info("control server started",
			"socket", n.controlServer.SocketPath())
	}

	if n.healthServer != nil {
		if err := n.healthServer.Start(); err != nil {
			n.logger.Error("failed to start health server",
				logging.KeyAddress, n.cfg.Health.Address,
				logging.KeyError, err)
			n.running.Store(false)
			return fmt.Errorf("start health server: %w", err)
		}
		n.logger.Info("health server started",
			logging.KeyAddress, n.healthServer.Address())
	}

	n.logger.Info("node started",
		logging.KeyNetworkID, n.id.ShortString(),
		"listeners", len(n.cfg.Listeners),
		"downstream", len(n.cfg.Downstream))

	return nil
}

// startListener binds one configured listener and hands it to the peer
// manager for accepting.
func (n *Node) startListener(cfg config.ListenerConfig) error {
	typ, err := transport.ParseTransportType(cfg.Transport)
	if err != nil {
		return err
	}
	tr := n.transports[typ]

	opts := transport.ListenOptions{MaxConnections: cfg.MaxConnections}
	if n.channel != nil {
		opts.TLSConfig = n.channel.ServerTLSConfig()
	}

	ln, err := tr.Listen(cfg.Address, opts)
	if err != nil {
		return err
	}
	n.listeners = append(n.listeners, ln)
	n.peerMgr.Serve(ln)
	return nil
}

// Stop gracefully stops the node.
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		n.logger.Info("stopping node",
			logging.KeyNetworkID, n.id.ShortString())

		n.running.Store(false)

		// Stop components in reverse order
		if n.healthServer != nil {
			n.healthServer.Stop()
		}
		if n.controlServer != nil {
			n.controlServer.Stop()
		}
		if n.peerMgr != nil {
			n.peerMgr.Close()
		}

		for _, ln := range n.listeners {
			ln.Close()
		}
		n.listeners = nil

		for _, tr := range n.transports {
			if tr != nil {
				tr.Close()
			}
		}

		n.wg.Wait()

		n.logger.Info("node stopped",
			logging.KeyNetworkID, n.id.ShortString())
	})

	return err
}

// StopWithContext stops with a timeout.
func (n *Node) StopWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- n.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the node is running.
func (n *Node) IsRunning() bool {
	return n.running.Load()
}

// ID returns the node's network identity.
func (n *Node) ID() identity.NetworkID {
	return n.id
}

// Name returns the node's display name, or falls back to the short ID.
func (n *Node) Name() string {
	if n.cfg.Node.Name != "" {
		return n.cfg.Node.Name
	}
	return n.id.ShortString()
}

// Uptime returns how long the node has been running.
func (n *Node) Uptime() time.Duration {
	if !n.running.Load() || n.startedAt.IsZero() {
		return 0
	}
	return time.Since(n.startedAt)
}

// ListenerAddrs returns the bound addresses of the node's listeners,
// in configuration order. Only valid after Start; listeners configured
// with port 0 report their assigned port.
func (n *Node) ListenerAddrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(n.listeners))
	for _, ln := range n.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}
