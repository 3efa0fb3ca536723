package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/axonlab/axond/internal/sysinfo"
	"golang.org/x/crypto/bcrypt"
)

// mustHashPassword generates a bcrypt hash for testing purposes.
func mustHashPassword(password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic("failed to hash password: " + err.Error())
	}
	return string(hash)
}

// mockStatsProvider implements StatsProvider for testing.
type mockStatsProvider struct {
	running bool
	stats   Stats
	peers   []PeerSummary
}

func (m *mockStatsProvider) IsRunning() bool {
	return m.running
}

func (m *mockStatsProvider) Stats() Stats {
	return m.stats
}

func (m *mockStatsProvider) Peers() []PeerSummary {
	return m.peers
}

func TestNewServer(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestServer_handleHealth(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if body := rec.Body.String(); body != "OK\n" {
		t.Errorf("expected body 'OK\\n', got %q", body)
	}
}

func TestServer_handleHealth_MethodNotAllowed(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true})

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestServer_handleHealthz_Running(t *testing.T) {
	provider := &mockStatsProvider{
		running: true,
		stats: Stats{
			NodeID:          "8b6ee337-013b-4007-ba4e-e51b42086cbd",
			Name:            "hidden-layer",
			UptimeSeconds:   42,
			PeerCount:       2,
			DownstreamCount: 1,
			ForwardPasses:   100,
			HebbianUpdates:  100,
		},
	}
	s := NewServer(DefaultServerConfig(), provider)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", response["status"])
	}
	if response["peer_count"] != float64(2) {
		t.Errorf("expected peer_count 2, got %v", response["peer_count"])
	}
	if response["forward_passes"] != float64(100) {
		t.Errorf("expected forward_passes 100, got %v", response["forward_passes"])
	}
	if response["name"] != "hidden-layer" {
		t.Errorf("expected name 'hidden-layer', got %v", response["name"])
	}

	host, ok := response["host"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected host section, got %v", response["host"])
	}
	if host["os"] != runtime.GOOS {
		t.Errorf("expected host os %q, got %v", runtime.GOOS, host["os"])
	}
	if host["version"] != sysinfo.Version {
		t.Errorf("expected host version %q, got %v", sysinfo.Version, host["version"])
	}
}

func TestServer_handleHealthz_NotRunning(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: false})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["running"] != false {
		t.Errorf("expected running=false, got %v", response["running"])
	}
}

func TestServer_handleReady(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true})

	for _, path := range []string{"/ready", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusOK, rec.Code)
		}
		if body := rec.Body.String(); body != "READY\n" {
			t.Errorf("%s: expected body 'READY\\n', got %q", path, body)
		}
	}
}

func TestServer_handleReady_NotRunning(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: false})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestServer_handlePeers(t *testing.T) {
	provider := &mockStatsProvider{
		running: true,
		peers: []PeerSummary{
			{
				ID:             "8b6ee337-013b-4007-ba4e-e51b42086cbd",
				Name:           "input-layer",
				Transport:      "tcp",
				Direction:      "inbound",
				State:          "ESTABLISHED",
				Secured:        true,
				Capabilities:   []string{"forward-propagation", "hebbian-learning"},
				FramesReceived: 7,
			},
		},
	}
	s := NewServer(DefaultServerConfig(), provider)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/peers", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response struct {
		Peers []PeerSummary `json:"peers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(response.Peers))
	}
	if response.Peers[0].Name != "input-layer" {
		t.Errorf("expected peer name 'input-layer', got %s", response.Peers[0].Name)
	}
	if response.Peers[0].FramesReceived != 7 {
		t.Errorf("expected 7 frames received, got %d", response.Peers[0].FramesReceived)
	}
}

func TestServer_handlePeers_Empty(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/peers", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	var response struct {
		Peers []PeerSummary `json:"peers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Peers == nil {
		t.Error("peers should encode as empty list, not null")
	}
}

func TestServer_Auth(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.AuthPasswordHash = mustHashPassword("opensesame")
	s := NewServer(cfg, &mockStatsProvider{running: true})

	// Probe endpoints stay open
	for _, path := range []string{"/health", "/ready", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s without credentials: expected %d, got %d", path, http.StatusOK, rec.Code)
		}
	}

	// Protected endpoints reject missing and wrong credentials
	protected := []string{"/healthz", "/metrics", "/api/v1/peers"}
	for _, path := range protected {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without credentials: expected %d, got %d", path, http.StatusUnauthorized, rec.Code)
		}

		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.SetBasicAuth("monitor", "wrong")
		rec = httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s with wrong password: expected %d, got %d", path, http.StatusUnauthorized, rec.Code)
		}
	}

	// Correct password passes, username is ignored
	for _, path := range protected {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.SetBasicAuth("anything", "opensesame")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s with correct password: expected %d, got %d", path, http.StatusOK, rec.Code)
		}
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	s := NewServer(cfg, &mockStatsProvider{running: true})

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected server to be running")
	}
	if s.Address() == nil {
		t.Error("expected a bound address")
	}

	resp, err := http.Get("http://" + s.Address().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("failed to stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("expected server to be stopped")
	}
}
