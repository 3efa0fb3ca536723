// Package metrics provides Prometheus metrics for axond.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "axond"
)

// Metrics contains all Prometheus metrics for the node.
type Metrics struct {
	// Connection metrics
	PeersConnected  prometheus.Gauge
	PeersTotal      prometheus.Counter
	PeerConnections *prometheus.CounterVec
	PeerDisconnects *prometheus.CounterVec

	// Frame metrics
	FramesSent      *prometheus.CounterVec
	FramesReceived  *prometheus.CounterVec
	BytesSent       *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	FrameErrors     *prometheus.CounterVec
	SequenceReplays prometheus.Counter

	// Handshake metrics
	HandshakeLatency prometheus.Histogram
	HandshakeErrors  *prometheus.CounterVec

	// Heartbeat metrics
	HeartbeatsSent     prometheus.Counter
	HeartbeatsReceived prometheus.Counter
	HeartbeatTimeouts  prometheus.Counter

	// Authorization metrics
	AuthzDenials         *prometheus.CounterVec
	ConnectionsThrottled prometheus.Counter

	// Compute metrics
	ForwardBatches       prometheus.Counter
	ForwardLatency       prometheus.Histogram
	ActivationsForwarded prometheus.Counter
	HebbianUpdates       prometheus.Counter
	DownstreamSendErrors prometheus.Counter

	// Reconnect metrics
	ReconnectAttempts prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Connection metrics
		PeersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_connected",
			Help:      "Number of currently connected peers",
		}),
		PeersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_total",
			Help:      "Total number of peer connections established",
		}),
		PeerConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_connections_total",
			Help:      "Total peer connections by transport type",
		}, []string{"transport", "direction"}),
		PeerDisconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_disconnects_total",
			Help:      "Total peer disconnections by reason",
		}, []string{"reason"}),

		// Frame metrics
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total frames sent by message type",
		}, []string{"msg_type"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total frames received by message type",
		}, []string{"msg_type"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent by message type",
		}, []string{"msg_type"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes received by message type",
		}, []string{"msg_type"}),
		FrameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Total frame decode errors by type",
		}, []string{"error_type"}),
		SequenceReplays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_replays_total",
			Help:      "Total frames dropped for replayed sequence numbers",
		}),

		// Handshake metrics
		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of peer handshake latency",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake errors by type",
		}, []string{"error_type"}),

		// Heartbeat metrics
		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Total heartbeat messages sent",
		}),
		HeartbeatsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_received_total",
			Help:      "Total heartbeat messages received",
		}),
		HeartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Total connections declared dead for missed heartbeats",
		}),

		// Authorization metrics
		AuthzDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_denials_total",
			Help:      "Total messages denied for missing capabilities by message type",
		}, []string{"msg_type"}),
		ConnectionsThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_throttled_total",
			Help:      "Total connections closed for exceeding the error threshold",
		}),

		// Compute metrics
		ForwardBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_batches_total",
			Help:      "Total activation batches run through the compute unit",
		}),
		ForwardLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_latency_seconds",
			Help:      "Histogram of forward pass latency in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ActivationsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_forwarded_total",
			Help:      "Total activation values forwarded downstream",
		}),
		HebbianUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hebbian_updates_total",
			Help:      "Total Hebbian learning updates applied",
		}),
		DownstreamSendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downstream_send_errors_total",
			Help:      "Total failures to forward results downstream",
		}),

		// Reconnect metrics
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total downstream reconnection attempts",
		}),
	}

	return m
}

// RecordPeerConnect records a new peer connection.
func (m *Metrics) RecordPeerConnect(transport, direction string) {
	m.PeersConnected.Inc()
	m.PeersTotal.Inc()
	m.PeerConnections.WithLabelValues(transport, direction).Inc()
}

// RecordPeerDisconnect records a peer disconnection.
func (m *Metrics) RecordPeerDisconnect(reason string) {
	m.PeersConnected.Dec()
	m.PeerDisconnects.WithLabelValues(reason).Inc()
}

// RecordFrameSent records a frame being sent.
func (m *Metrics) RecordFrameSent(msgType string, bytes int) {
	m.FramesSent.WithLabelValues(msgType).Inc()
	m.BytesSent.WithLabelValues(msgType).Add(float64(bytes))
}

// RecordFrameReceived records a frame being received.
func (m *Metrics) RecordFrameReceived(msgType string, bytes int) {
	m.FramesReceived.WithLabelValues(msgType).Inc()
	m.BytesReceived.WithLabelValues(msgType).Add(float64(bytes))
}

// RecordFrameError records a frame decode error.
func (m *Metrics) RecordFrameError(errorType string) {
	m.FrameErrors.WithLabelValues(errorType).Inc()
}

// RecordSequenceReplay records a dropped replay frame.
func (m *Metrics) RecordSequenceReplay() {
	m.SequenceReplays.Inc()
}

// RecordHandshake records a successful handshake.
func (m *Metrics) RecordHandshake(latencySeconds float64) {
	m.HandshakeLatency.Observe(latencySeconds)
}

// RecordHandshakeError records a handshake error.
func (m *Metrics) RecordHandshakeError(errorType string) {
	m.HandshakeErrors.WithLabelValues(errorType).Inc()
}

// RecordHeartbeatSent records a heartbeat sent.
func (m *Metrics) RecordHeartbeatSent() {
	m.HeartbeatsSent.Inc()
}

// RecordHeartbeatReceived records a heartbeat received.
func (m *Metrics) RecordHeartbeatReceived() {
	m.HeartbeatsReceived.Inc()
}

// RecordHeartbeatTimeout records a connection declared dead.
func (m *Metrics) RecordHeartbeatTimeout() {
	m.HeartbeatTimeouts.Inc()
}

// RecordAuthzDenial records a message denied for missing capabilities.
func (m *Metrics) RecordAuthzDenial(msgType string) {
	m.AuthzDenials.WithLabelValues(msgType).Inc()
}

// RecordThrottle records a connection closed for exceeding the error threshold.
func (m *Metrics) RecordThrottle() {
	m.ConnectionsThrottled.Inc()
}

// RecordForward records a completed forward pass.
func (m *Metrics) RecordForward(latencySeconds float64, activations int) {
	m.ForwardBatches.Inc()
	m.ForwardLatency.Observe(latencySeconds)
	m.ActivationsForwarded.Add(float64(activations))
}

// RecordHebbianUpdate records an applied Hebbian learning update.
func (m *Metrics) RecordHebbianUpdate() {
	m.HebbianUpdates.Inc()
}

// RecordDownstreamSendError records a failed downstream forward.
func (m *Metrics) RecordDownstreamSendError() {
	m.DownstreamSendErrors.Inc()
}

// RecordReconnectAttempt records a downstream reconnection attempt.
func (m *Metrics) RecordReconnectAttempt() {
	m.ReconnectAttempts.Inc()
}
