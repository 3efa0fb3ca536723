// Package authz gates data messages on the capability set negotiated
// for a peer and bounds how fast a peer may accrue protocol errors.
package authz

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/axonlab/axond/internal/protocol"
)

// ErrDenied is returned when a peer lacks the capability a message
// type requires.
var ErrDenied = errors.New("capability not granted")

// RequiredCapability returns the capability a message type requires.
// Session and control messages require none; ok is false for them.
func RequiredCapability(msgType uint8) (required protocol.Capability, ok bool) {
	switch msgType {
	case protocol.MsgForwardData:
		return protocol.CapForwardPropagation, true
	case protocol.MsgBackwardData:
		return protocol.CapBackpropagation, true
	case protocol.MsgHebbianData:
		return protocol.CapHebbianLearning, true
	case protocol.MsgWeightSync:
		return protocol.CapWeightSync, true
	default:
		return protocol.CapNone, false
	}
}

// Check validates that the granted set permits the message type.
// Message types with no capability requirement always pass, which
// keeps session and control traffic working for peers with an empty
// grant.
func Check(granted protocol.Capability, msgType uint8) error {
	required, ok := RequiredCapability(msgType)
	if !ok {
		return nil
	}
	if !granted.Has(required) {
		return fmt.Errorf("%w: %s requires %s", ErrDenied, protocol.MessageTypeName(msgType), required)
	}
	return nil
}

// ErrorBudget bounds how many protocol errors a peer may accrue within
// a sliding window before its connection is torn down. The budget is
// token-bucket backed: threshold errors are tolerated in a burst, then
// tokens refill at threshold-per-window.
type ErrorBudget struct {
	lim *rate.Limiter
}

// NewErrorBudget allows threshold errors per window. A non-positive
// threshold or window disables the budget.
func NewErrorBudget(threshold int, window time.Duration) *ErrorBudget {
	if threshold <= 0 || window <= 0 {
		return &ErrorBudget{}
	}
	return &ErrorBudget{
		lim: rate.NewLimiter(rate.Limit(float64(threshold)/window.Seconds()), threshold),
	}
}

// Observe records one error. It returns false when the budget is
// exhausted and the peer should be disconnected.
func (b *ErrorBudget) Observe() bool {
	if b.lim == nil {
		return true
	}
	return b.lim.Allow()
}
