// Package config provides configuration parsing and validation for axond.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/protocol"
)

// Config represents the complete node configuration.
type Config struct {
	Node       NodeConfig         `yaml:"node"`
	Listeners  []ListenerConfig   `yaml:"listeners"`
	TLS        TLSConfig          `yaml:"tls"`
	Protocol   ProtocolConfig     `yaml:"protocol"`
	Compute    ComputeConfig      `yaml:"compute"`
	Downstream []DownstreamConfig `yaml:"downstream"`
	Reconnect  ReconnectConfig    `yaml:"reconnect"`
	Health     HealthConfig       `yaml:"health"`
	Control    ControlConfig      `yaml:"control"`
}

// NodeConfig contains node identity settings.
type NodeConfig struct {
	ID        string   `yaml:"id"`         // "auto" or UUID string
	Name      string   `yaml:"name"`       // display name announced in handshakes
	DataDir   string   `yaml:"data_dir"`   // Directory for persistent state
	LogLevel  string   `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string   `yaml:"log_format"` // text, json
	Layers    []uint16 `yaml:"layers"`     // layer topology announced in handshakes
}

// ListenerConfig defines a transport listener.
type ListenerConfig struct {
	Transport      string `yaml:"transport"`       // tcp, quic, ws
	Address        string `yaml:"address"`         // listen address
	MaxConnections int    `yaml:"max_connections"` // accept cap, 0 = unlimited
}

// TLSConfig defines the secure channel settings shared by all listeners
// and outbound dials.
type TLSConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Cert                string   `yaml:"cert"` // Certificate file path
	Key                 string   `yaml:"key"`  // Private key file path
	CA                  string   `yaml:"ca"`   // CA certificate file path
	DefaultCapabilities []string `yaml:"default_capabilities"` // granted to non-TLS peers
	RevocationCheck     bool     `yaml:"revocation_check"`     // OCSP check of peer certificates
	OCSPResponder       string   `yaml:"ocsp_responder"`       // override responder URL, "" = from certificate
}

// ProtocolConfig defines NNP protocol parameters.
type ProtocolConfig struct {
	MinVersion        uint8         `yaml:"min_version"`        // minimum accepted protocol version
	Capabilities      []string      `yaml:"capabilities"`       // declared capability names
	DialTimeout       time.Duration `yaml:"dial_timeout"`       // outbound connect bound
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`  // handshake completion bound
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // idle send interval
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`  // receive liveness bound
	ErrorThreshold    int           `yaml:"error_threshold"`    // authorization errors tolerated per window
	ErrorWindow       time.Duration `yaml:"error_window"`       // sliding window for the threshold
}

// ComputeConfig defines how ingress data reaches the compute unit.
type ComputeConfig struct {
	HebbianLearning bool    `yaml:"hebbian_learning"` // apply learning to ingress activations
	LearningRate    float64 `yaml:"learning_rate"`    // rate for ingress-driven learning
}

// DownstreamConfig defines an output peer the node forwards results to.
type DownstreamConfig struct {
	Transport string `yaml:"transport"` // tcp, quic, ws
	Address   string `yaml:"address"`   // peer address
	ID        string `yaml:"id"`        // expected NetworkID, "" or "auto" = unpinned
}

// ReconnectConfig defines downstream reconnection behavior.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
	MaxRetries   int           `yaml:"max_retries"` // 0 = infinite
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Address          string        `yaml:"address"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	AuthPasswordHash string        `yaml:"auth_password_hash"` // bcrypt hash, "" disables auth
}

// ControlConfig defines control socket settings.
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:        "auto",
			Name:      "axond",
			DataDir:   "./data",
			LogLevel:  "info",
			LogFormat: "text",
			Layers:    []uint16{},
		},
		Listeners: []ListenerConfig{},
		TLS: TLSConfig{
			Enabled:             false,
			DefaultCapabilities: []string{},
			RevocationCheck:     false,
		},
		Protocol: ProtocolConfig{
			MinVersion:        1,
			Capabilities:      []string{"forward-propagation"},
			DialTimeout:       5 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			HeartbeatTimeout:  45 * time.Second,
			ErrorThreshold:    10,
			ErrorWindow:       30 * time.Second,
		},
		Compute: ComputeConfig{
			HebbianLearning: false,
			LearningRate:    0.01,
		},
		Downstream: []DownstreamConfig{},
		Reconnect: ReconnectConfig{
			InitialDelay: 1 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.2,
			MaxRetries:   0,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Control: ControlConfig{
			Enabled:    false,
			SocketPath: "./data/control.sock",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	// Parse YAML
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// Handle default values: ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		// Simple lookup
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Validate node config
	if c.Node.DataDir == "" {
		errs = append(errs, "node.data_dir is required")
	}
	if c.Node.ID != "" && c.Node.ID != "auto" {
		if _, err := identity.ParseNetworkID(c.Node.ID); err != nil {
			errs = append(errs, fmt.Sprintf("node.id: %v", err))
		}
	}
	if !isValidLogLevel(c.Node.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Node.LogLevel))
	}
	if !isValidLogFormat(c.Node.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Node.LogFormat))
	}
	if len(c.Node.Layers) > 255 {
		errs = append(errs, "node.layers cannot exceed 255 entries")
	}

	// Validate listeners
	for i, l := range c.Listeners {
		if err := c.validateListener(l); err != nil {
			errs = append(errs, fmt.Sprintf("listeners[%d]: %v", i, err))
		}
	}

	// Validate TLS
	if c.TLS.Enabled {
		if c.TLS.Cert == "" || c.TLS.Key == "" {
			errs = append(errs, "tls.cert and tls.key are required when tls is enabled")
		}
		if c.TLS.CA == "" {
			errs = append(errs, "tls.ca is required for mutual authentication")
		}
	}
	if _, err := protocol.ParseCapabilities(c.TLS.DefaultCapabilities); err != nil {
		errs = append(errs, fmt.Sprintf("tls.default_capabilities: %v", err))
	}

	// Validate protocol parameters
	if c.Protocol.MinVersion < 1 || c.Protocol.MinVersion > protocol.ProtocolVersion {
		errs = append(errs, fmt.Sprintf("protocol.min_version must be between 1 and %d", protocol.ProtocolVersion))
	}
	if _, err := protocol.ParseCapabilities(c.Protocol.Capabilities); err != nil {
		errs = append(errs, fmt.Sprintf("protocol.capabilities: %v", err))
	}
	if c.Protocol.DialTimeout <= 0 {
		errs = append(errs, "protocol.dial_timeout must be positive")
	}
	if c.Protocol.HandshakeTimeout <= 0 {
		errs = append(errs, "protocol.handshake_timeout must be positive")
	}
	if c.Protocol.HeartbeatInterval <= 0 {
		errs = append(errs, "protocol.heartbeat_interval must be positive")
	}
	if c.Protocol.HeartbeatTimeout <= c.Protocol.HeartbeatInterval {
		errs = append(errs, "protocol.heartbeat_timeout must exceed heartbeat_interval")
	}
	if c.Protocol.ErrorThreshold < 1 {
		errs = append(errs, "protocol.error_threshold must be at least 1")
	}
	if c.Protocol.ErrorWindow <= 0 {
		errs = append(errs, "protocol.error_window must be positive")
	}

	// Validate compute settings
	if c.Compute.HebbianLearning && c.Compute.LearningRate <= 0 {
		errs = append(errs, "compute.learning_rate must be positive when hebbian_learning is enabled")
	}

	// Validate downstream peers
	for i, d := range c.Downstream {
		if err := validateDownstream(d); err != nil {
			errs = append(errs, fmt.Sprintf("downstream[%d]: %v", i, err))
		}
	}

	// Validate reconnect tuning
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, "reconnect.multiplier must be at least 1")
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		errs = append(errs, "reconnect.jitter must be between 0 and 1")
	}

	if len(c.Listeners) == 0 && len(c.Downstream) == 0 {
		errs = append(errs, "at least one listener or downstream peer is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidTransport(transport string) bool {
	switch transport {
	case "tcp", "quic", "ws":
		return true
	default:
		return false
	}
}

func (c *Config) validateListener(l ListenerConfig) error {
	if !isValidTransport(l.Transport) {
		return fmt.Errorf("invalid transport: %s (must be tcp, quic, or ws)", l.Transport)
	}
	if l.Address == "" {
		return fmt.Errorf("address is required")
	}
	if l.MaxConnections < 0 {
		return fmt.Errorf("max_connections cannot be negative")
	}
	// QUIC and WebSocket carry TLS in the transport itself
	if l.Transport != "tcp" && !c.TLS.Enabled {
		return fmt.Errorf("%s transport requires tls.enabled", l.Transport)
	}
	return nil
}

func validateDownstream(d DownstreamConfig) error {
	if !isValidTransport(d.Transport) {
		return fmt.Errorf("invalid transport: %s (must be tcp, quic, or ws)", d.Transport)
	}
	if d.Address == "" {
		return fmt.Errorf("address is required")
	}
	if d.ID != "" && d.ID != "auto" {
		if _, err := identity.ParseNetworkID(d.ID); err != nil {
			return fmt.Errorf("id: %v", err)
		}
	}
	return nil
}

// String returns a string representation of the config (for debugging).
// WARNING: This method redacts sensitive values. Use StringUnsafe() for full output.
func (c *Config) String() string {
	redacted := c.Redacted()
	data, _ := yaml.Marshal(redacted)
	return string(data)
}

// StringUnsafe returns a string representation including sensitive values.
// Use with caution - do not log the output.
func (c *Config) StringUnsafe() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with sensitive values redacted.
// This is safe to log or display to users.
func (c *Config) Redacted() *Config {
	// Create a deep copy by marshaling and unmarshaling
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	// The TLS key path points at sensitive material
	if redacted.TLS.Key != "" {
		redacted.TLS.Key = redactedValue
	}
	if redacted.Health.AuthPasswordHash != "" {
		redacted.Health.AuthPasswordHash = redactedValue
	}

	return redacted
}
