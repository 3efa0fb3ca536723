package integration

import (
	"testing"
	"time"

	"github.com/axonlab/axond/internal/config"
	"github.com/axonlab/axond/internal/protocol"
)

// TestUngrantedDataRejected connects to a listener with no fallback
// grant. The session itself is legal, but data messages must bounce
// with an insufficient-capabilities report and never reach the unit.
func TestUngrantedDataRejected(t *testing.T) {
	unit := &recordingUnit{}
	cfg := testConfig(t)
	cfg.Node.Name = "locked"
	cfg.Listeners = []config.ListenerConfig{{Transport: "tcp", Address: "127.0.0.1:0"}}
	sock := withControl(cfg)
	n := startNode(t, cfg, unit)

	src := dialUpstream(t, listenerAddr(t, n, 0), upstreamOptions{
		caps: protocol.CapForwardPropagation,
	})
	if src.granted.Has(protocol.CapForwardPropagation) {
		t.Fatalf("granted = %s, want empty grant", src.granted)
	}

	src.sendForward(0, []float32{1})
	report := src.expectError(protocol.ErrCodeInsufficientCapabilities, 3*time.Second)
	if report.Detail == "" {
		t.Error("error report carries no detail")
	}

	if got := unit.Inputs(); len(got) != 0 {
		t.Errorf("unit saw %d forward passes, want 0", len(got))
	}
	if st := statusOf(t, sock); st.Dispatch.ForwardPasses != 0 {
		t.Errorf("forward passes = %d, want 0", st.Dispatch.ForwardPasses)
	}
}

// TestErrorBudgetCloses keeps violating the grant until the error
// budget runs out and the listener drops the session.
func TestErrorBudgetCloses(t *testing.T) {
	cfg := testConfig(t)
	cfg.Node.Name = "strict"
	cfg.Listeners = []config.ListenerConfig{{Transport: "tcp", Address: "127.0.0.1:0"}}
	cfg.Protocol.ErrorThreshold = 1
	cfg.Protocol.ErrorWindow = time.Second
	n := startNode(t, cfg, nil)

	src := dialUpstream(t, listenerAddr(t, n, 0), upstreamOptions{
		caps: protocol.CapForwardPropagation,
	})

	src.sendForward(0, []float32{1})
	src.expectError(protocol.ErrCodeInsufficientCapabilities, 3*time.Second)

	src.sendForward(0, []float32{2})
	src.expectError(protocol.ErrCodeInsufficientCapabilities, 3*time.Second)
	src.expectError(protocol.ErrCodeRateLimited, 3*time.Second)

	// The listener closes after throttling; the next read must fail.
	_ = src.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := src.reader.Read(); err == nil {
		t.Error("session still open after budget exhaustion")
	}
}
