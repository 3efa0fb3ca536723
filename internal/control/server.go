// Package control exposes a Unix socket interface to a running axond
// daemon. The CLI talks to it for status and session listings without
// touching the network itself.
package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/axonlab/axond/internal/identity"
)

// NodeInfo provides daemon state for the control interface.
type NodeInfo interface {
	// ID returns the node's network identity.
	ID() identity.NetworkID

	// Name returns the node's display name.
	Name() string

	// IsRunning returns true if the daemon is running.
	IsRunning() bool

	// Uptime returns how long the daemon has been running.
	Uptime() time.Duration

	// PeerInfo returns one entry per current session.
	PeerInfo() []PeerInfo

	// DispatchInfo returns compute activity totals.
	DispatchInfo() DispatchInfo
}

// PeerInfo describes one session for display.
type PeerInfo struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Transport      string   `json:"transport"`
	Direction      string   `json:"direction"`
	State          string   `json:"state"`
	RemoteAddr     string   `json:"remote_addr"`
	Secured        bool     `json:"secured"`
	Capabilities   []string `json:"capabilities,omitempty"`
	FramesSent     uint64   `json:"frames_sent"`
	FramesReceived uint64   `json:"frames_received"`
	BytesSent      uint64   `json:"bytes_sent"`
	BytesReceived  uint64   `json:"bytes_received"`
}

// DispatchInfo summarizes compute activity for display.
type DispatchInfo struct {
	ForwardPasses    uint64 `json:"forward_passes"`
	HebbianUpdates   uint64 `json:"hebbian_updates"`
	Gradients        uint64 `json:"gradients"`
	WeightSyncs      uint64 `json:"weight_syncs"`
	DownstreamErrors uint64 `json:"downstream_errors"`
}

// StatusResponse is the response for the status endpoint.
type StatusResponse struct {
	NodeID        string       `json:"node_id"`
	Name          string       `json:"name"`
	Running       bool         `json:"running"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	PeerCount     int          `json:"peer_count"`
	Dispatch      DispatchInfo `json:"dispatch"`
}

// PeersResponse is the response for the peers endpoint.
type PeersResponse struct {
	Peers []PeerInfo `json:"peers"`
}

// ServerConfig contains control server configuration.
type ServerConfig struct {
	// SocketPath is the path to the Unix socket file.
	SocketPath string

	// ReadTimeout for HTTP reads.
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes.
	WriteTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:   "./data/control.sock",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server answers control requests on a Unix socket.
type Server struct {
	cfg     ServerConfig
	node    NodeInfo
	server  *http.Server
	running atomic.Bool
}

// NewServer creates a control server reporting state from node.
func NewServer(cfg ServerConfig, node NodeInfo) *Server {
	s := &Server{
		cfg:  cfg,
		node: node,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /peers", s.handlePeers)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start listens on the socket, replacing any stale file left behind by
// a previous run.
func (s *Server) Start() error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsRunning returns true if the server is accepting requests.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatusResponse{
		NodeID:        s.node.ID().String(),
		Name:          s.node.Name(),
		Running:       s.node.IsRunning(),
		UptimeSeconds: s.node.Uptime().Seconds(),
		PeerCount:     len(s.node.PeerInfo()),
		Dispatch:      s.node.DispatchInfo(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := s.node.PeerInfo()
	if peers == nil {
		peers = []PeerInfo{}
	}
	writeJSON(w, PeersResponse{Peers: peers})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
