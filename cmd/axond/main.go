// Package main provides the CLI entry point for the axond daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/axonlab/axond/internal/config"
	"github.com/axonlab/axond/internal/control"
	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/node"
	"github.com/axonlab/axond/internal/service"
	"github.com/axonlab/axond/internal/sysinfo"
	"github.com/axonlab/axond/internal/wizard"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	// Propagate a build-time version into the host info surface
	if Version != "dev" {
		sysinfo.Version = Version
	}

	rootCmd := &cobra.Command{
		Use:   "axond",
		Short: "axond - Distributed neural network daemon",
		Long: `axond participates in a distributed neural network: it accepts
activations from upstream peers, runs them through a local compute
unit and forwards the results to downstream peers.

Peers speak the binary NNP protocol over TCP, QUIC or WebSocket,
optionally secured with mutual TLS carrying capability grants.`,
		Version: Version,
	}

	// Add subcommands
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(peersCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(certCmd())
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(benchCmd())
	rootCmd.AddCommand(licensesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var dataDir string
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new node",
		Long: `Initialize a new node. On a terminal this runs the interactive
setup wizard; with --non-interactive it only creates the node
identity in the data directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !nonInteractive && wizard.IsInteractive() {
				w := wizard.New()
				if _, err := w.Run(); err != nil {
					return fmt.Errorf("setup wizard failed: %w", err)
				}
				return nil
			}

			// Check if already initialized
			if identity.Exists(dataDir) {
				id, err := identity.Load(dataDir)
				if err != nil {
					return fmt.Errorf("failed to load existing identity: %w", err)
				}
				fmt.Printf("Node already initialized in %s\n", dataDir)
				fmt.Printf("Node ID: %s\n", id.String())
				return nil
			}

			id, _, err := identity.LoadOrCreate(dataDir)
			if err != nil {
				return fmt.Errorf("failed to initialize node: %w", err)
			}

			fmt.Printf("Node initialized in %s\n", dataDir)
			fmt.Printf("Node ID: %s\n", id.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for persistent state")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Skip the setup wizard")

	return cmd
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node daemon",
		Long:  "Start the node with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load configuration
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Create node with the default passthrough compute unit
			n, err := node.New(cfg, nil)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			// Under the Windows service manager the SCM drives start
			// and stop instead of signals
			if !service.IsInteractive() {
				return service.RunAsService("axond", n)
			}

			fmt.Printf("Starting axond...\n")
			fmt.Printf("Node ID: %s\n", n.ID().String())

			if err := n.Start(); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			fmt.Printf("Capabilities: %s\n", strings.Join(cfg.Protocol.Capabilities, ", "))
			fmt.Printf("Status: running (listeners: %d, downstream: %d)\n",
				len(cfg.Listeners), len(cfg.Downstream))

			// Wait for shutdown signal
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			sig := <-sigCh
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

			// Graceful shutdown with timeout
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := n.StopWithContext(ctx); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			fmt.Println("Node stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

func statusCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show node status",
		Long:  "Display the status of the running node over its control socket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			st, err := client.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to query node: %w", err)
			}

			state := "stopped"
			if st.Running {
				state = "running"
			}
			uptime := time.Duration(st.UptimeSeconds * float64(time.Second)).Round(time.Second)

			fmt.Printf("Node ID:  %s\n", st.NodeID)
			fmt.Printf("Name:     %s\n", st.Name)
			fmt.Printf("Status:   %s\n", state)
			fmt.Printf("Uptime:   %s\n", uptime)
			fmt.Printf("Peers:    %d\n", st.PeerCount)
			fmt.Println()
			fmt.Printf("Forward passes:    %s\n", humanize.Comma(int64(st.Dispatch.ForwardPasses)))
			fmt.Printf("Hebbian updates:   %s\n", humanize.Comma(int64(st.Dispatch.HebbianUpdates)))
			fmt.Printf("Gradients:         %s\n", humanize.Comma(int64(st.Dispatch.Gradients)))
			fmt.Printf("Weight syncs:      %s\n", humanize.Comma(int64(st.Dispatch.WeightSyncs)))
			fmt.Printf("Downstream errors: %s\n", humanize.Comma(int64(st.Dispatch.DownstreamErrors)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./data/control.sock", "Path to the control socket")

	return cmd
}

func peersCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List connected peers",
		Long:  "Display all peers currently connected to the running node.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			resp, err := client.Peers(ctx)
			if err != nil {
				return fmt.Errorf("failed to query node: %w", err)
			}

			if len(resp.Peers) == 0 {
				fmt.Println("No peers connected.")
				return nil
			}

			for i, p := range resp.Peers {
				if i > 0 {
					fmt.Println()
				}
				name := p.Name
				if name == "" {
					name = "(unnamed)"
				}
				link := "plaintext"
				if p.Secured {
					link = "tls"
				}
				fmt.Printf("%s\n", p.ID)
				fmt.Printf("  Name:         %s\n", name)
				fmt.Printf("  State:        %s\n", p.State)
				fmt.Printf("  Link:         %s %s via %s (%s)\n", p.Direction, p.RemoteAddr, p.Transport, link)
				fmt.Printf("  Capabilities: %s\n", strings.Join(p.Capabilities, ", "))
				fmt.Printf("  Traffic:      sent %s in %d frames, received %s in %d frames\n",
					humanize.IBytes(p.BytesSent), p.FramesSent,
					humanize.IBytes(p.BytesReceived), p.FramesReceived)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./data/control.sock", "Path to the control socket")

	return cmd
}
