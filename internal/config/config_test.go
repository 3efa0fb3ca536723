package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Check essential defaults
	if cfg.Node.ID != "auto" {
		t.Errorf("Node.ID = %s, want auto", cfg.Node.ID)
	}
	if cfg.Node.DataDir != "./data" {
		t.Errorf("Node.DataDir = %s, want ./data", cfg.Node.DataDir)
	}
	if cfg.Node.LogLevel != "info" {
		t.Errorf("Node.LogLevel = %s, want info", cfg.Node.LogLevel)
	}
	if cfg.Protocol.MinVersion != 1 {
		t.Errorf("Protocol.MinVersion = %d, want 1", cfg.Protocol.MinVersion)
	}
	if cfg.Protocol.HeartbeatInterval != 15*time.Second {
		t.Errorf("Protocol.HeartbeatInterval = %v, want 15s", cfg.Protocol.HeartbeatInterval)
	}
	if cfg.Protocol.HeartbeatTimeout != 45*time.Second {
		t.Errorf("Protocol.HeartbeatTimeout = %v, want 45s", cfg.Protocol.HeartbeatTimeout)
	}
	if cfg.Compute.LearningRate != 0.01 {
		t.Errorf("Compute.LearningRate = %v, want 0.01", cfg.Compute.LearningRate)
	}
	if cfg.Reconnect.InitialDelay != 1*time.Second {
		t.Errorf("Reconnect.InitialDelay = %v, want 1s", cfg.Reconnect.InitialDelay)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
node:
  id: "auto"
  name: "visual-cortex"
  data_dir: "./data"
  log_level: "debug"
  log_format: "json"
  layers: [64, 32, 10]

listeners:
  - transport: tcp
    address: "0.0.0.0:9473"
    max_connections: 128
  - transport: quic
    address: "0.0.0.0:9474"

tls:
  enabled: true
  cert: "./certs/node.pem"
  key: "./certs/node.key"
  ca: "./certs/ca.pem"

protocol:
  capabilities:
    - forward-propagation
    - hebbian-learning
  handshake_timeout: 5s
  heartbeat_interval: 10s
  heartbeat_timeout: 30s

compute:
  hebbian_learning: true
  learning_rate: 0.05

downstream:
  - transport: tcp
    address: "10.0.0.2:9473"
    id: "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// Verify parsed values
	if cfg.Node.Name != "visual-cortex" {
		t.Errorf("Node.Name = %s, want visual-cortex", cfg.Node.Name)
	}
	if cfg.Node.LogFormat != "json" {
		t.Errorf("Node.LogFormat = %s, want json", cfg.Node.LogFormat)
	}
	if len(cfg.Node.Layers) != 3 || cfg.Node.Layers[0] != 64 {
		t.Errorf("Node.Layers = %v, want [64 32 10]", cfg.Node.Layers)
	}
	if len(cfg.Listeners) != 2 {
		t.Fatalf("len(Listeners) = %d, want 2", len(cfg.Listeners))
	}
	if cfg.Listeners[0].MaxConnections != 128 {
		t.Errorf("Listeners[0].MaxConnections = %d, want 128", cfg.Listeners[0].MaxConnections)
	}
	if cfg.Listeners[1].Transport != "quic" {
		t.Errorf("Listeners[1].Transport = %s, want quic", cfg.Listeners[1].Transport)
	}
	if !cfg.TLS.Enabled {
		t.Error("TLS.Enabled = false, want true")
	}
	if len(cfg.Protocol.Capabilities) != 2 {
		t.Errorf("len(Protocol.Capabilities) = %d, want 2", len(cfg.Protocol.Capabilities))
	}
	if cfg.Protocol.HeartbeatInterval != 10*time.Second {
		t.Errorf("Protocol.HeartbeatInterval = %v, want 10s", cfg.Protocol.HeartbeatInterval)
	}
	if !cfg.Compute.HebbianLearning {
		t.Error("Compute.HebbianLearning = false, want true")
	}
	if cfg.Compute.LearningRate != 0.05 {
		t.Errorf("Compute.LearningRate = %v, want 0.05", cfg.Compute.LearningRate)
	}
	if len(cfg.Downstream) != 1 {
		t.Fatalf("len(Downstream) = %d, want 1", len(cfg.Downstream))
	}
	if cfg.Downstream[0].ID != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Errorf("Downstream[0].ID = %s", cfg.Downstream[0].ID)
	}
}

func TestParse_MinimalConfig(t *testing.T) {
	yamlConfig := `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
    address: ":9473"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// Should use defaults for unspecified fields
	if cfg.Node.LogLevel != "info" {
		t.Errorf("Node.LogLevel = %s, want info (default)", cfg.Node.LogLevel)
	}
	if cfg.Protocol.HandshakeTimeout != 10*time.Second {
		t.Errorf("Protocol.HandshakeTimeout = %v, want 10s (default)", cfg.Protocol.HandshakeTimeout)
	}
	if len(cfg.Protocol.Capabilities) != 1 || cfg.Protocol.Capabilities[0] != "forward-propagation" {
		t.Errorf("Protocol.Capabilities = %v, want [forward-propagation] (default)", cfg.Protocol.Capabilities)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	yamlConfig := `
node:
  data_dir: "./data"
  invalid yaml here [
`

	_, err := Parse([]byte(yamlConfig))
	if err == nil {
		t.Error("Parse() should fail for invalid YAML")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantError string
	}{
		{
			name: "invalid log level",
			yaml: `
node:
  data_dir: "./data"
  log_level: "invalid"
listeners:
  - transport: tcp
    address: ":9473"
`,
			wantError: "invalid log_level",
		},
		{
			name: "invalid log format",
			yaml: `
node:
  data_dir: "./data"
  log_format: "invalid"
listeners:
  - transport: tcp
    address: ":9473"
`,
			wantError: "invalid log_format",
		},
		{
			name: "malformed node id",
			yaml: `
node:
  data_dir: "./data"
  id: "not-a-uuid"
listeners:
  - transport: tcp
    address: ":9473"
`,
			wantError: "node.id",
		},
		{
			name: "listener missing address",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
`,
			wantError: "address is required",
		},
		{
			name: "listener invalid transport",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: carrier-pigeon
    address: ":9473"
`,
			wantError: "invalid transport",
		},
		{
			name: "quic listener without tls",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: quic
    address: ":9474"
`,
			wantError: "requires tls.enabled",
		},
		{
			name: "tls enabled without cert",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
    address: ":9473"
tls:
  enabled: true
  ca: "./certs/ca.pem"
`,
			wantError: "tls.cert and tls.key are required",
		},
		{
			name: "tls enabled without ca",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
    address: ":9473"
tls:
  enabled: true
  cert: "./certs/node.pem"
  key: "./certs/node.key"
`,
			wantError: "tls.ca is required",
		},
		{
			name: "unknown capability",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
    address: ":9473"
protocol:
  capabilities:
    - telepathy
`,
			wantError: "protocol.capabilities",
		},
		{
			name: "min_version zero",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
    address: ":9473"
protocol:
  min_version: 0
`,
			wantError: "min_version must be between",
		},
		{
			name: "heartbeat timeout below interval",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
    address: ":9473"
protocol:
  heartbeat_interval: 30s
  heartbeat_timeout: 10s
`,
			wantError: "heartbeat_timeout must exceed",
		},
		{
			name: "zero error threshold",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
    address: ":9473"
protocol:
  error_threshold: 0
`,
			wantError: "error_threshold must be at least 1",
		},
		{
			name: "hebbian without learning rate",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
    address: ":9473"
compute:
  hebbian_learning: true
  learning_rate: 0
`,
			wantError: "learning_rate must be positive",
		},
		{
			name: "downstream malformed id",
			yaml: `
node:
  data_dir: "./data"
downstream:
  - transport: tcp
    address: "10.0.0.2:9473"
    id: "zzz"
`,
			wantError: "downstream[0]",
		},
		{
			name: "downstream missing address",
			yaml: `
node:
  data_dir: "./data"
downstream:
  - transport: tcp
`,
			wantError: "address is required",
		},
		{
			name: "jitter out of range",
			yaml: `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
    address: ":9473"
reconnect:
  jitter: 1.5
`,
			wantError: "jitter must be between 0 and 1",
		},
		{
			name: "nothing to do",
			yaml: `
node:
  data_dir: "./data"
`,
			wantError: "at least one listener or downstream peer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Error("Parse() should fail")
				return
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("Error = %v, want to contain %q", err, tt.wantError)
			}
		})
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	// Set test environment variables
	os.Setenv("TEST_DATA_DIR", "/custom/data")
	os.Setenv("TEST_PEER_ADDR", "10.0.0.1:9473")
	defer func() {
		os.Unsetenv("TEST_DATA_DIR")
		os.Unsetenv("TEST_PEER_ADDR")
	}()

	yamlConfig := `
node:
  data_dir: "${TEST_DATA_DIR}"

downstream:
  - transport: tcp
    address: "$TEST_PEER_ADDR"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Node.DataDir != "/custom/data" {
		t.Errorf("Node.DataDir = %s, want /custom/data", cfg.Node.DataDir)
	}
	if cfg.Downstream[0].Address != "10.0.0.1:9473" {
		t.Errorf("Downstream[0].Address = %s, want 10.0.0.1:9473", cfg.Downstream[0].Address)
	}
}

func TestParse_EnvVarDefaultValue(t *testing.T) {
	// Ensure the variable is NOT set
	os.Unsetenv("NONEXISTENT_VAR")

	yamlConfig := `
node:
  data_dir: "${NONEXISTENT_VAR:-/default/path}"
listeners:
  - transport: tcp
    address: ":9473"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Node.DataDir != "/default/path" {
		t.Errorf("Node.DataDir = %s, want /default/path", cfg.Node.DataDir)
	}
}

func TestParse_EnvVarNotFound(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR")

	yamlConfig := `
node:
  data_dir: "${NONEXISTENT_VAR}"
listeners:
  - transport: tcp
    address: ":9473"
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// Should keep the original placeholder if not found
	if cfg.Node.DataDir != "${NONEXISTENT_VAR}" {
		t.Errorf("Node.DataDir = %s, want ${NONEXISTENT_VAR}", cfg.Node.DataDir)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() should fail for nonexistent file")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
node:
  data_dir: "./data"
  log_level: "debug"
listeners:
  - transport: tcp
    address: ":9473"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Node.LogLevel != "debug" {
		t.Errorf("Node.LogLevel = %s, want debug", cfg.Node.LogLevel)
	}
}

func TestConfig_Validate_MissingDataDir(t *testing.T) {
	cfg := Default()
	cfg.Listeners = []ListenerConfig{{Transport: "tcp", Address: ":9473"}}
	cfg.Node.DataDir = ""

	err := cfg.Validate()
	if err == nil {
		t.Error("Validate() should fail with empty data_dir")
	}
}

func TestConfig_Validate_DownstreamAutoID(t *testing.T) {
	cfg := Default()
	cfg.Downstream = []DownstreamConfig{
		{Transport: "tcp", Address: "10.0.0.2:9473", ID: "auto"},
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestDurationParsing(t *testing.T) {
	yamlConfig := `
node:
  data_dir: "./data"
listeners:
  - transport: tcp
    address: ":9473"
protocol:
  dial_timeout: 2500ms
  handshake_timeout: 1m
  heartbeat_interval: 90s
  heartbeat_timeout: 3m30s
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Protocol.DialTimeout != 2500*time.Millisecond {
		t.Errorf("DialTimeout = %v, want 2.5s", cfg.Protocol.DialTimeout)
	}
	if cfg.Protocol.HandshakeTimeout != time.Minute {
		t.Errorf("HandshakeTimeout = %v, want 1m", cfg.Protocol.HandshakeTimeout)
	}
	if cfg.Protocol.HeartbeatTimeout != 210*time.Second {
		t.Errorf("HeartbeatTimeout = %v, want 3m30s", cfg.Protocol.HeartbeatTimeout)
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := Default()
	cfg.TLS.Key = "./certs/node.key"
	cfg.Health.AuthPasswordHash = "$2a$10$abcdefghijklmnopqrstuv"

	redacted := cfg.Redacted()
	if redacted.TLS.Key != redactedValue {
		t.Errorf("Redacted TLS.Key = %s, want %s", redacted.TLS.Key, redactedValue)
	}
	if redacted.Health.AuthPasswordHash != redactedValue {
		t.Errorf("Redacted AuthPasswordHash = %s, want %s", redacted.Health.AuthPasswordHash, redactedValue)
	}

	// Original must be untouched
	if cfg.TLS.Key != "./certs/node.key" {
		t.Error("Redacted() modified the original config")
	}
}

func TestConfig_String(t *testing.T) {
	cfg := Default()
	cfg.TLS.Key = "./certs/node.key"
	s := cfg.String()

	// Should contain key sections
	if !strings.Contains(s, "node") {
		t.Error("String() should contain 'node'")
	}
	if !strings.Contains(s, "protocol") {
		t.Error("String() should contain 'protocol'")
	}
	// Should not leak the key path
	if strings.Contains(s, "node.key") {
		t.Error("String() should redact the TLS key path")
	}

	unsafe := cfg.StringUnsafe()
	if !strings.Contains(unsafe, "node.key") {
		t.Error("StringUnsafe() should contain the TLS key path")
	}
}
