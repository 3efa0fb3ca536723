package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/axonlab/axond/internal/certutil"
	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/protocol"
	"github.com/spf13/cobra"
)

func certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Manage certificates",
		Long:  "Generate and inspect the certificates used for mutual TLS.",
	}

	cmd.AddCommand(certCACmd())
	cmd.AddCommand(certNodeCmd())
	cmd.AddCommand(certInfoCmd())

	return cmd
}

func certCACmd() *cobra.Command {
	var commonName, outDir string
	var validDays int

	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Generate a certificate authority",
		Long:  "Generate a CA certificate and key for signing node certificates.",
		RunE: func(cmd *cobra.Command, args []string) error {
			validFor := time.Duration(validDays) * 24 * time.Hour
			ca, err := certutil.GenerateCA(commonName, validFor)
			if err != nil {
				return fmt.Errorf("failed to generate CA: %w", err)
			}

			certPath := filepath.Join(outDir, "ca.crt")
			keyPath := filepath.Join(outDir, "ca.key")
			if err := ca.SaveToFiles(certPath, keyPath); err != nil {
				return fmt.Errorf("failed to save CA: %w", err)
			}

			fmt.Printf("CA certificate: %s\n", certPath)
			fmt.Printf("CA key:         %s\n", keyPath)
			fmt.Printf("Fingerprint:    %s\n", ca.Fingerprint())
			return nil
		},
	}

	cmd.Flags().StringVar(&commonName, "cn", "axond CA", "Common name for the CA")
	cmd.Flags().IntVar(&validDays, "days", 365, "Validity period in days")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "./certs", "Output directory")

	return cmd
}

func certNodeCmd() *cobra.Command {
	var commonName, outDir, dataDir, caCert, caKey, capList string
	var validDays int

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Generate a node certificate",
		Long: `Generate a node certificate signed by the CA. The certificate
binds the node identity from the data directory and grants the
listed capabilities to whoever presents it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ca, err := certutil.LoadCert(caCert, caKey)
			if err != nil {
				return fmt.Errorf("failed to load CA: %w", err)
			}

			id, _, err := identity.LoadOrCreate(dataDir)
			if err != nil {
				return fmt.Errorf("failed to load node identity: %w", err)
			}

			caps, err := protocol.ParseCapabilities(splitList(capList))
			if err != nil {
				return fmt.Errorf("invalid capabilities: %w", err)
			}

			validFor := time.Duration(validDays) * 24 * time.Hour
			cert, err := certutil.GenerateNodeCert(id, commonName, caps, validFor, ca)
			if err != nil {
				return fmt.Errorf("failed to generate certificate: %w", err)
			}

			certPath := filepath.Join(outDir, "node.crt")
			keyPath := filepath.Join(outDir, "node.key")
			if err := cert.SaveToFiles(certPath, keyPath); err != nil {
				return fmt.Errorf("failed to save certificate: %w", err)
			}

			fmt.Printf("Node certificate: %s\n", certPath)
			fmt.Printf("Node key:         %s\n", keyPath)
			fmt.Printf("Node ID:          %s\n", id.String())
			fmt.Printf("Capabilities:     %s\n", strings.Join(caps.Names(), ", "))
			fmt.Printf("Fingerprint:      %s\n", cert.Fingerprint())
			return nil
		},
	}

	cmd.Flags().StringVar(&commonName, "cn", "axond", "Common name for the certificate")
	cmd.Flags().IntVar(&validDays, "days", 90, "Validity period in days")
	cmd.Flags().StringVar(&caCert, "ca-cert", "./certs/ca.crt", "CA certificate file")
	cmd.Flags().StringVar(&caKey, "ca-key", "./certs/ca.key", "CA key file")
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Data directory holding the node identity")
	cmd.Flags().StringVar(&capList, "caps", "forward-propagation", "Comma-separated capability grant")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "./certs", "Output directory")

	return cmd
}

func certInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <certificate>",
		Short: "Show certificate details",
		Long:  "Display the identity, capability grant and validity of a certificate file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := certutil.GetCertInfoFromFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read certificate: %w", err)
			}

			fmt.Printf("Subject:      %s\n", info.Subject)
			fmt.Printf("Issuer:       %s\n", info.Issuer)
			fmt.Printf("Serial:       %s\n", info.SerialNumber)
			fmt.Printf("Not before:   %s\n", info.NotBefore.Format(time.RFC3339))
			fmt.Printf("Not after:    %s\n", info.NotAfter.Format(time.RFC3339))
			fmt.Printf("Fingerprint:  %s\n", info.Fingerprint)
			if info.IsCA {
				fmt.Printf("CA:           true\n")
			}
			if info.NetworkID != "" {
				fmt.Printf("Node ID:      %s\n", info.NetworkID)
			}
			if len(info.Capabilities) > 0 {
				fmt.Printf("Capabilities: %s\n", strings.Join(info.Capabilities, ", "))
			}
			if len(info.DNSNames) > 0 {
				fmt.Printf("DNS names:    %s\n", strings.Join(info.DNSNames, ", "))
			}
			if len(info.OCSPServers) > 0 {
				fmt.Printf("OCSP:         %s\n", strings.Join(info.OCSPServers, ", "))
			}
			return nil
		},
	}
}

// splitList splits a comma-separated flag value, trimming whitespace.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
