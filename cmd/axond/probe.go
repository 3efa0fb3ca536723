package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/axonlab/axond/internal/probe"
	"github.com/spf13/cobra"
)

func probeCmd() *cobra.Command {
	var (
		transportType string
		timeout       time.Duration
		useTLS        bool
		insecure      bool
		caCert        string
		clientCert    string
		clientKey     string
	)

	cmd := &cobra.Command{
		Use:   "probe <address>",
		Short: "Test reachability of a remote listener",
		Long: `Probe dials a listener, completes a handshake under a throwaway
identity and reports the node behind it. Useful for verifying an
address before adding it as a downstream peer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			res := probe.Probe(ctx, probe.Options{
				Transport:  transportType,
				Address:    args[0],
				Timeout:    timeout,
				TLS:        useTLS,
				Insecure:   insecure,
				CACert:     caCert,
				ClientCert: clientCert,
				ClientKey:  clientKey,
			})
			if !res.Success {
				return fmt.Errorf("%s://%s unreachable: %s", res.Transport, res.Address, res.Detail)
			}

			fmt.Printf("✓ %s://%s reachable in %s\n", res.Transport, res.Address, res.RTT.Round(time.Millisecond))
			fmt.Printf("  Node ID:      %s\n", res.RemoteID)
			if res.RemoteName != "" {
				fmt.Printf("  Name:         %s\n", res.RemoteName)
			}
			if len(res.Capabilities) > 0 {
				fmt.Printf("  Capabilities: %s\n", strings.Join(res.Capabilities, ", "))
			}
			if len(res.LayerSizes) > 0 {
				fmt.Printf("  Layers:       %s\n", formatLayerSizes(res.LayerSizes))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&transportType, "transport", "t", "tcp", "Transport to dial with (tcp, quic, ws)")
	cmd.Flags().DurationVar(&timeout, "timeout", probe.DefaultTimeout, "Overall probe timeout")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "Use TLS on TCP (implied for quic and ws)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip server certificate verification")
	cmd.Flags().StringVar(&caCert, "ca", "", "CA bundle for server verification")
	cmd.Flags().StringVar(&clientCert, "cert", "", "Client certificate to present")
	cmd.Flags().StringVar(&clientKey, "key", "", "Client certificate key")

	return cmd
}

// formatLayerSizes renders a layer topology like "784, 128, 10".
func formatLayerSizes(sizes []uint16) string {
	parts := make([]string, len(sizes))
	for i, s := range sizes {
		parts[i] = fmt.Sprintf("%d", s)
	}
	return strings.Join(parts, ", ")
}
