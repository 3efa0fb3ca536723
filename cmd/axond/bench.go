package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/loadtest"
	"github.com/axonlab/axond/internal/peer"
	"github.com/axonlab/axond/internal/probe"
	"github.com/axonlab/axond/internal/protocol"
	"github.com/axonlab/axond/internal/transport"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func benchCmd() *cobra.Command {
	var (
		transportType string
		duration      time.Duration
		concurrency   int
		vectorSize    int
		frameRate     int
		churn         bool
		useTLS        bool
		insecure      bool
		caCert        string
		clientCert    string
		clientKey     string
	)

	cmd := &cobra.Command{
		Use:   "bench <address>",
		Short: "Load test a remote listener",
		Long: `Bench opens forward-propagation sessions against a listener and
pumps synthetic activation vectors through them, reporting frame and
byte throughput. With --churn it measures how fast the listener can
accept and tear down sessions instead.

The listener must grant the forward-propagation capability for the
frame pump to work; run "axond probe" first to check.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := probe.Options{
				Transport:  transportType,
				Address:    args[0],
				TLS:        useTLS,
				Insecure:   insecure,
				CACert:     caCert,
				ClientCert: clientCert,
				ClientKey:  clientKey,
			}

			typ, err := transport.ParseTransportType(opts.Transport)
			if err != nil {
				return err
			}
			localID, err := probe.ClientIdentity(opts)
			if err != nil {
				return err
			}
			tlsConf, err := probe.ClientTLSConfig(opts, typ)
			if err != nil {
				return err
			}
			tr, err := transport.New(typ)
			if err != nil {
				return err
			}
			defer tr.Close()

			handshaker := peer.NewHandshaker(peer.HandshakeConfig{
				LocalID:      localID,
				Name:         "bench",
				Capabilities: protocol.CapForwardPropagation,
			})

			dial := func(ctx context.Context) (*peer.Connection, error) {
				ctx, cancel := context.WithTimeout(ctx, probe.DefaultTimeout)
				defer cancel()

				tc, err := tr.Dial(ctx, opts.Address, transport.DialOptions{
					TLSConfig: tlsConf,
					Timeout:   probe.DefaultTimeout,
				})
				if err != nil {
					return nil, err
				}
				pc := peer.NewConnection(tc, peer.ConnectionConfig{LocalID: localID})
				if _, err := handshaker.PerformHandshake(ctx, pc, identity.NetworkID{}); err != nil {
					pc.Close()
					return nil, err
				}
				return pc, nil
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if churn {
				fmt.Printf("Churning sessions against %s://%s with %d workers for %s...\n",
					opts.Transport, opts.Address, concurrency, duration)

				tester := loadtest.NewSessionChurnTester(concurrency, duration)
				metrics, err := tester.Run(ctx, func() (func() error, error) {
					pc, err := dial(ctx)
					if err != nil {
						return nil, err
					}
					return func() error { return pc.CloseWithReason("bench complete") }, nil
				})
				if err != nil {
					return err
				}

				fmt.Printf("\nSessions:       %s (%s failed)\n",
					humanize.Comma(metrics.TotalSessions), humanize.Comma(metrics.FailedConnects))
				fmt.Printf("Connect avg:    %.3f ms\n", metrics.AvgConnectTimeMs)
				fmt.Printf("Disconnect avg: %.3f ms\n", metrics.AvgDisconnectTimeMs)
				fmt.Printf("Churn rate:     %.1f sessions/s\n", metrics.ChurnRate)

				if metrics.SuccessfulConnects == 0 {
					return errors.New("no session ever connected")
				}
				return nil
			}

			fmt.Printf("Pumping forward frames to %s://%s, %d sessions of %d floats for %s...\n",
				opts.Transport, opts.Address, concurrency, vectorSize, duration)

			gen := loadtest.NewForwardLoadGenerator(concurrency, vectorSize, frameRate, duration)
			metrics, err := gen.Run(ctx, func() (loadtest.ForwardSender, error) {
				pc, err := dial(ctx)
				if err != nil {
					return nil, err
				}
				// The listener drops forward frames it never granted, so
				// surface the refusal here instead of counting ghost sends.
				if !pc.MaySend(protocol.CapForwardPropagation) {
					pc.CloseWithReason("forward propagation not granted")
					return nil, errors.New("listener did not grant forward-propagation")
				}
				return pc, nil
			})
			if err != nil {
				return err
			}

			fmt.Printf("\nSessions:   %s opened, %s failed\n",
				humanize.Comma(metrics.SessionsOpened), humanize.Comma(metrics.SessionsFailed))
			fmt.Printf("Frames:     %s sent, %s failed\n",
				humanize.Comma(metrics.TotalFrames-metrics.FailedFrames), humanize.Comma(metrics.FailedFrames))
			fmt.Printf("Bytes:      %s\n", humanize.IBytes(uint64(metrics.TotalBytes)))
			fmt.Printf("Rate:       %.0f frames/s\n", metrics.FramesPerSecond)
			fmt.Printf("Throughput: %.2f MB/s\n", metrics.ThroughputMBps)

			if metrics.SessionsOpened == 0 {
				return errors.New("no session ever opened")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&transportType, "transport", "t", "tcp", "Transport to dial with (tcp, quic, ws)")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "How long to run the load")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 4, "Concurrent sessions")
	cmd.Flags().IntVar(&vectorSize, "vector-size", 256, "Floats per forward frame")
	cmd.Flags().IntVar(&frameRate, "rate", 0, "Aggregate frames per second, 0 for unlimited")
	cmd.Flags().BoolVar(&churn, "churn", false, "Measure session setup and teardown instead of throughput")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "Use TLS on TCP (implied for quic and ws)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip server certificate verification")
	cmd.Flags().StringVar(&caCert, "ca", "", "CA bundle for server verification")
	cmd.Flags().StringVar(&clientCert, "cert", "", "Client certificate to present")
	cmd.Flags().StringVar(&clientKey, "key", "", "Client certificate key")

	return cmd
}
