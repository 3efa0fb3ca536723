package node

import (
	"time"

	"github.com/axonlab/axond/internal/control"
	"github.com/axonlab/axond/internal/health"
	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/peer"
)

// controlInfo adapts Node to control.NodeInfo.
type controlInfo struct {
	node *Node
}

// ID implements control.NodeInfo.
func (c *controlInfo) ID() identity.NetworkID {
	return c.node.id
}

// Name implements control.NodeInfo.
func (c *controlInfo) Name() string {
	return c.node.Name()
}

// IsRunning implements control.NodeInfo.
func (c *controlInfo) IsRunning() bool {
	return c.node.IsRunning()
}

// Uptime implements control.NodeInfo.
func (c *controlInfo) Uptime() time.Duration {
	return c.node.Uptime()
}

// PeerInfo implements control.NodeInfo.
func (c *controlInfo) PeerInfo() []control.PeerInfo {
	conns := c.node.peerMgr.Peers()
	out := make([]control.PeerInfo, 0, len(conns))
	for _, conn := range conns {
		counters := conn.Counters()
		out = append(out, control.PeerInfo{
			ID:             conn.RemoteID().String(),
			Name:           conn.RemoteName(),
			Transport:      string(conn.TransportType()),
			Direction:      direction(conn),
			State:          conn.State().String(),
			RemoteAddr:     conn.RemoteAddr(),
			Secured:        conn.Secured(),
			Capabilities:   conn.RemoteCapabilities().Names(),
			FramesSent:     counters.FramesSent,
			FramesReceived: counters.FramesReceived,
			BytesSent:      counters.BytesSent,
			BytesReceived:  counters.BytesReceived,
		})
	}
	return out
}

// DispatchInfo implements control.NodeInfo.
func (c *controlInfo) DispatchInfo() control.DispatchInfo {
	stats := c.node.dispatcher.Stats()
	return control.DispatchInfo{
		ForwardPasses:    stats.ForwardPasses,
		HebbianUpdates:   stats.HebbianUpdates,
		Gradients:        stats.Gradients,
		WeightSyncs:      stats.WeightSyncs,
		DownstreamErrors: stats.DownstreamErrors,
	}
}

// healthStats adapts Node to health.StatsProvider.
type healthStats struct {
	node *Node
}

// IsRunning implements health.StatsProvider.
func (h *healthStats) IsRunning() bool {
	return h.node.IsRunning()
}

// Stats implements health.StatsProvider.
func (h *healthStats) Stats() health.Stats {
	n := h.node
	stats := n.dispatcher.Stats()
	return health.Stats{
		NodeID:           n.id.String(),
		Name:             n.Name(),
		UptimeSeconds:    n.Uptime().Seconds(),
		PeerCount:        n.peerMgr.PeerCount(),
		DownstreamCount:  len(n.peerMgr.Downstreams()),
		ForwardPasses:    stats.ForwardPasses,
		HebbianUpdates:   stats.HebbianUpdates,
		DownstreamErrors: stats.DownstreamErrors,
	}
}

// Peers implements health.StatsProvider.
func (h *healthStats) Peers() []health.PeerSummary {
	conns := h.node.peerMgr.Peers()
	out := make([]health.PeerSummary, 0, len(conns))
	for _, conn := range conns {
		counters := conn.Counters()
		out = append(out, health.PeerSummary{
			ID:             conn.RemoteID().String(),
			Name:           conn.RemoteName(),
			Transport:      string(conn.TransportType()),
			Direction:      direction(conn),
			State:          conn.State().String(),
			RemoteAddr:     conn.RemoteAddr(),
			Secured:        conn.Secured(),
			Capabilities:   conn.RemoteCapabilities().Names(),
			FramesSent:     counters.FramesSent,
			FramesReceived: counters.FramesReceived,
			BytesSent:      counters.BytesSent,
			BytesReceived:  counters.BytesReceived,
		})
	}
	return out
}

// direction names which side initiated the session.
func direction(conn *peer.Connection) string {
	if conn.IsDialer() {
		return "outbound"
	}
	return "inbound"
}
