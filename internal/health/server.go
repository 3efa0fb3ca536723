// Package health provides the HTTP status surface for axond.
package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/axonlab/axond/internal/sysinfo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
)

// StatsProvider provides daemon statistics.
type StatsProvider interface {
	// IsRunning returns true if the daemon is running.
	IsRunning() bool

	// Stats returns daemon statistics.
	Stats() Stats

	// Peers returns one summary per current session.
	Peers() []PeerSummary
}

// Stats contains daemon health statistics.
type Stats struct {
	NodeID           string  `json:"node_id"`
	Name             string  `json:"name,omitempty"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	PeerCount        int     `json:"peer_count"`
	DownstreamCount  int     `json:"downstream_count"`
	ForwardPasses    uint64  `json:"forward_passes"`
	HebbianUpdates   uint64  `json:"hebbian_updates"`
	DownstreamErrors uint64  `json:"downstream_errors"`
}

// PeerSummary describes one session for the peers API.
type PeerSummary struct {
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

// ServerConfig contains health server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., ":9090")
	Address string

	// ReadTimeout for HTTP reads
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes
	WriteTimeout time.Duration

	// AuthPasswordHash is a bcrypt hash protecting everything except the
	// liveness and readiness probes. Empty disables authentication.
	AuthPasswordHash string
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server answers liveness, readiness, stats, metrics and pprof requests.
type Server struct {
	cfg      ServerConfig
	provider StatsProvider
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a health check server. The probe endpoints stay
// unauthenticated so orchestrators can reach them; everything else sits
// behind basic auth once a password hash is configured.
func NewServer(cfg ServerConfig, provider StatsProvider) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.Handle("GET /healthz", s.protect(http.HandlerFunc(s.handleHealthz)))
	mux.Handle("GET /api/v1/peers", s.protect(http.HandlerFunc(s.handlePeers)))
	mux.Handle("GET /metrics", s.protect(promhttp.Handler()))

	// pprof handlers take care of their own methods
	mux.Handle("/debug/pprof/", s.protect(http.HandlerFunc(pprof.Index)))
	mux.Handle("/debug/pprof/cmdline", s.protect(http.HandlerFunc(pprof.Cmdline)))
	mux.Handle("/debug/pprof/profile", s.protect(http.HandlerFunc(pprof.Profile)))
	mux.Handle("/debug/pprof/symbol", s.protect(http.HandlerFunc(pprof.Symbol)))
	mux.Handle("/debug/pprof/trace", s.protect(http.HandlerFunc(pprof.Trace)))

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the bound listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// IsRunning returns true if the server is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// protect wraps h with HTTP basic authentication against the configured
// bcrypt hash. The username is ignored. An empty hash disables auth.
func (s *Server) protect(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthPasswordHash != "" {
			_, password, ok := r.BasicAuth()
			if !ok || bcrypt.CompareHashAndPassword([]byte(s.cfg.AuthPasswordHash), []byte(password)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="axond"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		h.ServeHTTP(w, r)
	})
}

// up reports whether the daemon behind the status surface is running.
func (s *Server) up() bool {
	return s.provider != nil && s.provider.IsRunning()
}

// handleHealth is the bare liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "OK\n")
}

// handleReady reports whether the daemon can serve traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.up() {
		writeText(w, http.StatusServiceUnavailable, "NOT READY\n")
		return
	}
	writeText(w, http.StatusOK, "READY\n")
}

// healthzResponse flattens Stats into the detailed health payload.
type healthzResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Stats
	Host *sysinfo.Info `json:"host,omitempty"`
}

// handleHealthz serves daemon statistics plus a host section.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.up() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "unavailable",
			"running": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, healthzResponse{
		Status:  "healthy",
		Running: true,
		Stats:   s.provider.Stats(),
		Host:    sysinfo.Collect(),
	})
}

// handlePeers lists the current sessions.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	var peers []PeerSummary
	if s.provider != nil {
		peers = s.provider.Peers()
	}
	if peers == nil {
		peers = []PeerSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"peers": peers})
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
