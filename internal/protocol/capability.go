package protocol

import (
	"fmt"
	"strings"
)

// Capability is a 32-bit set of independent flags, each authorizing one
// message family for a peer. Capabilities are fixed for the lifetime of a
// connection; renegotiation requires a new connection.
type Capability uint32

// Capability bits
const (
	CapForwardPropagation  Capability = 1 << 0 // Send/receive FORWARD_DATA
	CapBackpropagation     Capability = 1 << 1 // Send/receive BACKWARD_DATA
	CapHebbianLearning     Capability = 1 << 2 // Send/receive HEBBIAN_DATA
	CapWeightSync          Capability = 1 << 3 // Send/receive WEIGHT_SYNC
	CapCorrelationAnalysis Capability = 1 << 4 // Correlation computation support
	CapMultiLayer          Capability = 1 << 5 // Multi-layer topology support
	CapRealTime            Capability = 1 << 6 // Real-time processing support
	CapCompression         Capability = 1 << 7 // Payload compression support

	// CapNone is the empty capability set
	CapNone Capability = 0
)

// capabilityNames maps each bit to its config/display name.
var capabilityNames = []struct {
	bit  Capability
	name string
}{
	{CapForwardPropagation, "forward-propagation"},
	{CapBackpropagation, "backpropagation"},
	{CapHebbianLearning, "hebbian-learning"},
	{CapWeightSync, "weight-sync"},
	{CapCorrelationAnalysis, "correlation-analysis"},
	{CapMultiLayer, "multi-layer"},
	{CapRealTime, "real-time"},
	{CapCompression, "compression"},
}

// Has returns true if all bits in want are set.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// With returns c with the given bits added.
func (c Capability) With(add Capability) Capability {
	return c | add
}

// Without returns c with the given bits cleared.
func (c Capability) Without(del Capability) Capability {
	return c &^ del
}

// Intersect returns the bits present in both sets. The effective capability
// of a connection is the intersection of the local supported set, the peer's
// declared set, and the certificate-granted set.
func (c Capability) Intersect(other Capability) Capability {
	return c & other
}

// Names returns the display names of all set bits, in bit order.
func (c Capability) Names() []string {
	var names []string
	for _, entry := range capabilityNames {
		if c.Has(entry.bit) {
			names = append(names, entry.name)
		}
	}
	return names
}

// String returns a pipe-separated list of set capability names, or "none".
func (c Capability) String() string {
	names := c.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseCapability resolves a single capability name to its bit.
func ParseCapability(name string) (Capability, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, entry := range capabilityNames {
		if entry.name == name {
			return entry.bit, nil
		}
	}
	return CapNone, fmt.Errorf("unknown capability %q", name)
}

// ParseCapabilities resolves a list of capability names to a combined set.
func ParseCapabilities(names []string) (Capability, error) {
	var caps Capability
	for _, name := range names {
		bit, err := ParseCapability(name)
		if err != nil {
			return CapNone, err
		}
		caps |= bit
	}
	return caps, nil
}
