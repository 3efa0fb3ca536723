// Package wizard provides an interactive setup wizard for axond.
package wizard

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/axonlab/axond/internal/certutil"
	"github.com/axonlab/axond/internal/config"
	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/protocol"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
	DataDir    string
	CertsDir   string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// IsInteractive reports whether stdin is attached to a terminal. The
// wizard refuses to run against a pipe.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	// Step 1: Basic setup
	dataDir, configPath, nodeName, err := w.askBasicSetup()
	if err != nil {
		return nil, err
	}

	// Identity is needed before certificate generation: the node
	// certificate binds the NetworkID as a SAN.
	id, _, err := identity.LoadOrCreate(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize node identity: %w", err)
	}

	// Step 2: Node role
	role, err := w.askNodeRole()
	if err != nil {
		return nil, err
	}

	// Step 3: Listener (entry nodes only dial)
	var listener *config.ListenerConfig
	if role != "entry" {
		listener, err = w.askListenerConfig()
		if err != nil {
			return nil, err
		}
	}

	// Step 4: TLS setup
	certsDir, tlsConfig, err := w.askTLSSetup(dataDir, id)
	if err != nil {
		return nil, err
	}

	// Step 5: Downstream peers (terminal nodes only listen)
	var downstreams []config.DownstreamConfig
	if role != "terminal" {
		downstreams, err = w.askDownstreamPeers(role, listener)
		if err != nil {
			return nil, err
		}
	}

	// Step 6: Compute configuration
	layers, capabilities, hebbian, learningRate, err := w.askComputeConfig()
	if err != nil {
		return nil, err
	}

	// Step 7: Advanced options
	healthEnabled, healthPasswordHash, controlEnabled, logLevel, err := w.askAdvancedOptions()
	if err != nil {
		return nil, err
	}

	// Build configuration
	cfg := w.buildConfig(
		dataDir, nodeName, layers, listener,
		tlsConfig, downstreams, capabilities,
		hebbian, learningRate,
		healthEnabled, healthPasswordHash, controlEnabled, logLevel,
	)

	// Write configuration file
	if err := w.writeConfig(cfg, configPath); err != nil {
		return nil, err
	}

	// Print summary
	w.printSummary(id, configPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: configPath,
		DataDir:    dataDir,
		CertsDir:   certsDir,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
     _     __  __   ___    _   _   ____
    / \    \ \/ /  / _ \  | \ | | |  _ \
   / _ \    \  /  | | | | |  \| | | | | |
  / ___ \   /  \  | |_| | | |\  | | |_| |
 /_/   \_\ /_/\_\  \___/  |_| \_| |____/
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  Distributed Neural Network Daemon - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup() (dataDir, configPath, nodeName string, err error) {
	dataDir = "./data"
	configPath = "./config.yaml"
	nodeName = "axond"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Configure the essential paths for your node."),

			huh.NewInput().
				Title("Data Directory").
				Description("Where to store node identity and state").
				Placeholder("./data").
				Value(&dataDir).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("data directory is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./config.yaml").
				Value(&configPath).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("config path is required")
					}
					if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
						return fmt.Errorf("config file should have .yaml or .yml extension")
					}
					return nil
				}),

			huh.NewInput().
				Title("Node Name").
				Description("Display name announced to peers in handshakes").
				Placeholder("axond").
				Value(&nodeName).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("node name is required")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

func (w *Wizard) askNodeRole() (string, error) {
	role := "hidden"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Node Role").
				Description("Select where this node sits in the network.\nEntry nodes only dial, terminal nodes only listen."),

			huh.NewSelect[string]().
				Title("Select Role").
				Options(
					huh.NewOption("Entry (feeds data in, dials downstream peers)", "entry"),
					huh.NewOption("Hidden (listens for upstream, dials downstream)", "hidden"),
					huh.NewOption("Terminal (final stage, listens only)", "terminal"),
				).
				Value(&role),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return "", err
	}

	return role, nil
}

func (w *Wizard) askListenerConfig() (*config.ListenerConfig, error) {
	listener := &config.ListenerConfig{
		Transport: "tcp",
		Address:   "0.0.0.0:9473",
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Listener Configuration").
				Description("Configure how this node accepts upstream connections."),

			huh.NewSelect[string]().
				Title("Transport Protocol").
				Description("QUIC and WebSocket require TLS").
				Options(
					huh.NewOption("TCP (simplest, TLS optional)", "tcp"),
					huh.NewOption("QUIC (UDP, lowest latency)", "quic"),
					huh.NewOption("WebSocket (TCP, proxy-friendly)", "ws"),
				).
				Value(&listener.Transport),

			huh.NewInput().
				Title("Listen Address").
				Description("Address and port to listen on").
				Placeholder("0.0.0.0:9473").
				Value(&listener.Address).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("listen address is required")
					}
					_, _, err := net.SplitHostPort(s)
					if err != nil {
						return fmt.Errorf("invalid address format (use host:port)")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return nil, err
	}

	return listener, nil
}

func (w *Wizard) askTLSSetup(dataDir string, id identity.NetworkID) (certsDir string, tlsConfig config.TLSConfig, err error) {
	certsDir = filepath.Join(dataDir, "certs")
	enableTLS := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("TLS Configuration").
				Description("Mutual TLS authenticates peers and carries capability\ngrants in certificates. Plaintext is fine for local testing."),

			huh.NewConfirm().
				Title("Enable mutual TLS?").
				Description("Required for QUIC and WebSocket listeners").
				Value(&enableTLS),
		),
	).WithTheme(w.theme)

	if err = form.Run(); err != nil {
		return
	}

	if !enableTLS {
		tlsConfig, err = w.askPlaintextGrant()
		return certsDir, tlsConfig, err
	}

	var tlsChoice string
	choiceForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Certificate Setup").
				Options(
					huh.NewOption("Generate a CA and node certificate (Recommended for testing)", "generate"),
					huh.NewOption("Use existing certificate files", "existing"),
				).
				Value(&tlsChoice),

			huh.NewInput().
				Title("Certificates Directory").
				Description("Where to store/find certificate files").
				Placeholder(certsDir).
				Value(&certsDir),
		),
	).WithTheme(w.theme)

	if err = choiceForm.Run(); err != nil {
		return
	}

	// Ensure certs directory exists
	if err = os.MkdirAll(certsDir, 0700); err != nil {
		return certsDir, tlsConfig, fmt.Errorf("failed to create certs directory: %w", err)
	}

	switch tlsChoice {
	case "generate":
		tlsConfig, err = w.generateCertificates(certsDir, id)
	case "existing":
		tlsConfig, err = w.useExistingCertificates(certsDir)
	}

	return
}

// askPlaintextGrant configures the capability grant applied to peers on
// unsecured links, where no certificate can carry one.
func (w *Wizard) askPlaintextGrant() (config.TLSConfig, error) {
	grant := []string{"forward-propagation"}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Plaintext Capability Grant").
				Description("Without TLS there are no certificate grants.\nSelect the capabilities plaintext peers may use."),

			huh.NewMultiSelect[string]().
				Title("Granted Capabilities").
				Options(capabilityOptions()...).
				Value(&grant).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return fmt.Errorf("select at least one capability")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return config.TLSConfig{}, err
	}

	return config.TLSConfig{
		Enabled:             false,
		DefaultCapabilities: grant,
	}, nil
}

func (w *Wizard) generateCertificates(certsDir string, id identity.NetworkID) (config.TLSConfig, error) {
	var commonName string = "axond"
	var validDays int = 90
	grant := []string{"forward-propagation"}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Generate Certificates").
				Description("A CA and a node certificate will be generated.\nThe node certificate binds this node's ID and capability grant."),

			huh.NewInput().
				Title("Common Name").
				Description("Name for the certificate (e.g., hostname)").
				Placeholder("axond").
				Value(&commonName),

			huh.NewInput().
				Title("Validity (days)").
				Description("How long the node certificate should be valid").
				Placeholder("90").
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					d, err := strconv.Atoi(s)
					if err != nil || d < 1 {
						return fmt.Errorf("must be a positive number")
					}
					validDays = d
					return nil
				}),

			huh.NewMultiSelect[string]().
				Title("Certificate Capability Grant").
				Description("Capabilities peers holding this certificate may use").
				Options(capabilityOptions()...).
				Value(&grant).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return fmt.Errorf("select at least one capability")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return config.TLSConfig{}, err
	}

	caps, err := protocol.ParseCapabilities(grant)
	if err != nil {
		return config.TLSConfig{}, err
	}

	// Generate CA
	validFor := time.Duration(validDays) * 24 * time.Hour
	ca, err := certutil.GenerateCA(commonName+" CA", validFor)
	if err != nil {
		return config.TLSConfig{}, fmt.Errorf("failed to generate CA: %w", err)
	}

	caPath := filepath.Join(certsDir, "ca.crt")
	caKeyPath := filepath.Join(certsDir, "ca.key")
	if err := ca.SaveToFiles(caPath, caKeyPath); err != nil {
		return config.TLSConfig{}, fmt.Errorf("failed to save CA: %w", err)
	}

	// Generate node certificate
	cert, err := certutil.GenerateNodeCert(id, commonName, caps, validFor, ca)
	if err != nil {
		return config.TLSConfig{}, fmt.Errorf("failed to generate certificate: %w", err)
	}

	certPath := filepath.Join(certsDir, "node.crt")
	keyPath := filepath.Join(certsDir, "node.key")
	if err := cert.SaveToFiles(certPath, keyPath); err != nil {
		return config.TLSConfig{}, fmt.Errorf("failed to save certificate: %w", err)
	}

	fmt.Printf("\n✓ Generated CA certificate: %s\n", caPath)
	fmt.Printf("✓ Generated node certificate: %s\n", certPath)
	fmt.Printf("  Fingerprint: %s\n\n", cert.Fingerprint())

	return config.TLSConfig{
		Enabled: true,
		Cert:    certPath,
		Key:     keyPath,
		CA:      caPath,
	}, nil
}

func (w *Wizard) useExistingCertificates(certsDir string) (config.TLSConfig, error) {
	certPath := filepath.Join(certsDir, "node.crt")
	keyPath := filepath.Join(certsDir, "node.key")
	caPath := filepath.Join(certsDir, "ca.crt")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Existing Certificates").
				Description("Specify paths to your existing certificate files."),

			huh.NewInput().
				Title("Certificate File").
				Placeholder(certPath).
				Value(&certPath).
				Validate(func(s string) error {
					if _, err := os.Stat(s); os.IsNotExist(err) {
						return fmt.Errorf("file not found: %s", s)
					}
					return nil
				}),

			huh.NewInput().
				Title("Private Key File").
				Placeholder(keyPath).
				Value(&keyPath).
				Validate(func(s string) error {
					if _, err := os.Stat(s); os.IsNotExist(err) {
						return fmt.Errorf("file not found: %s", s)
					}
					return nil
				}),

			huh.NewInput().
				Title("CA Certificate File").
				Placeholder(caPath).
				Value(&caPath).
				Validate(func(s string) error {
					if _, err := os.Stat(s); os.IsNotExist(err) {
						return fmt.Errorf("file not found: %s", s)
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return config.TLSConfig{}, err
	}

	return config.TLSConfig{
		Enabled: true,
		Cert:    certPath,
		Key:     keyPath,
		CA:      caPath,
	}, nil
}

func (w *Wizard) askDownstreamPeers(role string, listener *config.ListenerConfig) ([]config.DownstreamConfig, error) {
	addPeers := role == "entry"
	description := "Forward results to peers further down the pipeline"
	if role == "entry" {
		description = "An entry node needs at least one downstream peer"
	}

	defaultTransport := "tcp"
	if listener != nil {
		defaultTransport = listener.Transport
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Downstream Peers").
				Description("Configure the peers this node forwards output to."),

			huh.NewConfirm().
				Title("Add downstream peers?").
				Description(description).
				Value(&addPeers),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return nil, err
	}

	if !addPeers {
		return nil, nil
	}

	var peers []config.DownstreamConfig
	addMore := true

	for addMore {
		peer, err := w.askSingleDownstream(defaultTransport, len(peers)+1)
		if err != nil {
			return nil, err
		}
		peers = append(peers, peer)

		confirmForm := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Add another downstream peer?").
					Value(&addMore),
			),
		).WithTheme(w.theme)

		if err := confirmForm.Run(); err != nil {
			return nil, err
		}
	}

	return peers, nil
}

func (w *Wizard) askSingleDownstream(defaultTransport string, peerNum int) (config.DownstreamConfig, error) {
	peer := config.DownstreamConfig{
		Transport: defaultTransport,
	}
	var peerAddr, peerID string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Downstream #%d", peerNum)),

			huh.NewInput().
				Title("Peer Address").
				Description("Address of the peer (host:port)").
				Placeholder("peer.example.com:9473").
				Value(&peerAddr).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("address is required")
					}
					_, _, err := net.SplitHostPort(s)
					if err != nil {
						return fmt.Errorf("invalid address format")
					}
					return nil
				}),

			huh.NewInput().
				Title("Expected Node ID").
				Description("The node ID you expect to connect to (UUID)").
				Placeholder("auto").
				Value(&peerID).
				Validate(func(s string) error {
					if s == "" || s == "auto" {
						return nil
					}
					if _, err := identity.ParseNetworkID(s); err != nil {
						return fmt.Errorf("invalid node ID")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Title("Transport").
				Options(
					huh.NewOption("TCP", "tcp"),
					huh.NewOption("QUIC", "quic"),
					huh.NewOption("WebSocket", "ws"),
				).
				Value(&peer.Transport),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return peer, err
	}

	peer.Address = peerAddr
	if peerID == "" || peerID == "auto" {
		peer.ID = "auto"
	} else {
		peer.ID = peerID
	}

	return peer, nil
}

func (w *Wizard) askComputeConfig() (layers []uint16, capabilities []string, hebbian bool, learningRate float64, err error) {
	capabilities = []string{"forward-propagation"}
	learningRate = 0.01
	var layersStr string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Compute Configuration").
				Description("Configure the neural protocol behavior of this node."),

			huh.NewInput().
				Title("Layer Sizes").
				Description("Comma-separated neuron counts announced to peers (optional)").
				Placeholder("784, 128, 10").
				Value(&layersStr).
				Validate(func(s string) error {
					sizes, perr := parseLayerSizes(s)
					if perr != nil {
						return perr
					}
					layers = sizes
					return nil
				}),

			huh.NewMultiSelect[string]().
				Title("Declared Capabilities").
				Description("Capabilities announced in handshakes").
				Options(capabilityOptions()...).
				Value(&capabilities).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return fmt.Errorf("select at least one capability")
					}
					return nil
				}),

			huh.NewConfirm().
				Title("Enable Hebbian learning?").
				Description("Apply local correlation learning to incoming activations").
				Value(&hebbian),
		),
	).WithTheme(w.theme)

	if err = form.Run(); err != nil {
		return
	}

	if hebbian {
		rateForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Learning Rate").
					Description("Step size for Hebbian weight updates").
					Placeholder("0.01").
					Validate(func(s string) error {
						if s == "" {
							return nil
						}
						rate, perr := strconv.ParseFloat(s, 64)
						if perr != nil || rate <= 0 {
							return fmt.Errorf("must be a positive number")
						}
						learningRate = rate
						return nil
					}),
			),
		).WithTheme(w.theme)

		if err = rateForm.Run(); err != nil {
			return
		}
	}

	return
}

func (w *Wizard) askAdvancedOptions() (healthEnabled bool, healthPasswordHash string, controlEnabled bool, logLevel string, err error) {
	healthEnabled = true
	controlEnabled = true
	logLevel = "info"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Configure monitoring and logging."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&logLevel),

			huh.NewConfirm().
				Title("Enable health endpoint?").
				Description("HTTP endpoint for monitoring (/healthz, /stats, /peers)").
				Value(&healthEnabled),

			huh.NewConfirm().
				Title("Enable control socket?").
				Description("Unix socket for CLI commands (status, peers)").
				Value(&controlEnabled),
		),
	).WithTheme(w.theme)

	if err = form.Run(); err != nil {
		return
	}

	if healthEnabled {
		var protect bool
		var password string

		authForm := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Protect health endpoint with a password?").
					Description("Basic auth for /stats and /peers").
					Value(&protect),
			),
		).WithTheme(w.theme)

		if err = authForm.Run(); err != nil {
			return
		}

		if protect {
			passwordForm := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Password").
						EchoMode(huh.EchoModePassword).
						Value(&password).
						Validate(func(s string) error {
							if s == "" {
								return fmt.Errorf("password required")
							}
							return nil
						}),
				),
			).WithTheme(w.theme)

			if err = passwordForm.Run(); err != nil {
				return
			}

			var hash []byte
			hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				err = fmt.Errorf("failed to hash password: %w", err)
				return
			}
			healthPasswordHash = string(hash)
		}
	}

	return
}

func (w *Wizard) buildConfig(
	dataDir, nodeName string,
	layers []uint16,
	listener *config.ListenerConfig,
	tlsConfig config.TLSConfig,
	downstreams []config.DownstreamConfig,
	capabilities []string,
	hebbian bool,
	learningRate float64,
	healthEnabled bool,
	healthPasswordHash string,
	controlEnabled bool,
	logLevel string,
) *config.Config {
	cfg := config.Default()

	cfg.Node.Name = nodeName
	cfg.Node.DataDir = dataDir
	cfg.Node.LogLevel = logLevel
	cfg.Node.LogFormat = "text"
	cfg.Node.Layers = layers

	// Listener
	if listener != nil {
		cfg.Listeners = []config.ListenerConfig{*listener}
	}

	// TLS
	cfg.TLS = tlsConfig

	// Downstream peers
	cfg.Downstream = downstreams

	// Compute
	if hebbian && !contains(capabilities, "hebbian-learning") {
		capabilities = append(capabilities, "hebbian-learning")
	}
	cfg.Protocol.Capabilities = capabilities
	cfg.Compute.HebbianLearning = hebbian
	cfg.Compute.LearningRate = learningRate

	// Health
	cfg.Health.Enabled = healthEnabled
	cfg.Health.AuthPasswordHash = healthPasswordHash

	// Control
	cfg.Control.Enabled = controlEnabled
	if controlEnabled {
		cfg.Control.SocketPath = filepath.Join(dataDir, "control.sock")
	}

	return cfg
}

func (w *Wizard) writeConfig(cfg *config.Config, path string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Add header comment
	header := `# axond configuration
# Generated by setup wizard
# See https://github.com/axonlab/axond for documentation

`
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(id identity.NetworkID, configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Node ID:      %s\n", id.String())
	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Data dir:     %s\n", cfg.Node.DataDir)
	fmt.Println()

	if len(cfg.Listeners) > 0 {
		l := cfg.Listeners[0]
		fmt.Printf("  Listener:     %s://%s\n", l.Transport, l.Address)
	}

	if len(cfg.Downstream) > 0 {
		fmt.Printf("  Downstream:   %d peer(s)\n", len(cfg.Downstream))
	}

	fmt.Printf("  Capabilities: %s\n", strings.Join(cfg.Protocol.Capabilities, ", "))

	if cfg.Compute.HebbianLearning {
		fmt.Printf("  Learning:     hebbian, rate %g\n", cfg.Compute.LearningRate)
	}

	if cfg.Health.Enabled {
		fmt.Printf("  Health:       http://%s/healthz\n", cfg.Health.Address)
	}

	fmt.Println()
	fmt.Println("  To start the node:")
	fmt.Printf("    axond run -c %s\n", configPath)
	fmt.Println()
}

// capabilityOptions lists the selectable protocol capabilities.
func capabilityOptions() []huh.Option[string] {
	return []huh.Option[string]{
		huh.NewOption("Forward propagation (activations)", "forward-propagation"),
		huh.NewOption("Backpropagation (gradients)", "backpropagation"),
		huh.NewOption("Hebbian learning (correlations)", "hebbian-learning"),
		huh.NewOption("Weight sync (parameter exchange)", "weight-sync"),
		huh.NewOption("Correlation analysis", "correlation-analysis"),
		huh.NewOption("Multi-layer topology", "multi-layer"),
		huh.NewOption("Real-time processing", "real-time"),
		huh.NewOption("Compression", "compression"),
	}
}

// parseLayerSizes parses a comma-separated list of neuron counts. An
// empty string is a valid empty topology.
func parseLayerSizes(s string) ([]uint16, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var sizes []uint16
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid layer size %q", part)
		}
		if n == 0 {
			return nil, fmt.Errorf("layer size must be positive")
		}
		sizes = append(sizes, uint16(n))
	}
	return sizes, nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
