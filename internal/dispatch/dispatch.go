// Package dispatch routes authorized data messages to the node's compute
// unit and fans forward-pass outputs out to downstream peers.
//
// The peer manager consumes session and control traffic itself; only
// ForwardData, BackwardData, HebbianData and WeightSync reach the
// dispatcher, and only after the capability check has passed.
package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/logging"
	"github.com/axonlab/axond/internal/metrics"
	"github.com/axonlab/axond/internal/protocol"
)

// ComputeUnit is the neural network behind this node. Both methods are
// synchronous and fast; the dispatcher serializes all calls under one lock,
// so implementations need no locking of their own.
type ComputeUnit interface {
	// Forward runs one forward pass over the input activations and returns
	// the output activations.
	Forward(values []float64) []float64

	// ApplyLearning applies a Hebbian update for the given values at the
	// given learning rate.
	ApplyLearning(values []float64, rate float64)
}

// PassthroughUnit is a ComputeUnit that returns its input unchanged and
// ignores learning. Nodes without an attached model use it to relay
// activations downstream untouched.
type PassthroughUnit struct{}

// Forward returns values unchanged.
func (PassthroughUnit) Forward(values []float64) []float64 {
	return values
}

// ApplyLearning does nothing.
func (PassthroughUnit) ApplyLearning(values []float64, rate float64) {}

// Source identifies the peer connection a message arrived on.
type Source interface {
	RemoteID() identity.NetworkID
}

// Sender is the outbound half of an established session. Forward outputs
// fan out through it with the session's own sequence numbering.
type Sender interface {
	SendForward(layerID uint8, values []float32) error
	MaySend(cap protocol.Capability) bool
	RemoteID() identity.NetworkID
}

// Config contains dispatcher configuration.
type Config struct {
	// Unit is the compute unit handling forward passes and learning.
	Unit ComputeUnit

	// HebbianLearning applies a learning update for every forward input
	// and enables processing of HebbianData messages. When false,
	// HebbianData is dropped and the compute state stays unchanged.
	HebbianLearning bool

	// LearningRate for ingress-driven updates. HebbianData messages carry
	// their own rate.
	LearningRate float64

	// Downstreams returns the current fan-out targets. Nil or empty means
	// this node is a terminal stage and outputs go nowhere.
	Downstreams func() []Sender

	// OnBackward, if set, receives gradients. The compute unit has no
	// backpropagation interface, so gradients are otherwise logged,
	// counted and dropped.
	OnBackward func(src Source, msg *protocol.BackwardData)

	// OnWeightSync, if set, receives weight snapshots.
	OnWeightSync func(src Source, msg *protocol.WeightSync)

	// Logger for logging.
	Logger *slog.Logger

	// Metrics collector. May be nil.
	Metrics *metrics.Metrics
}

// Stats is a snapshot of dispatcher activity.
type Stats struct {
	ForwardPasses    uint64
	HebbianUpdates   uint64
	Gradients        uint64
	WeightSyncs      uint64
	DownstreamErrors uint64
}

// Dispatcher routes decoded data messages to the compute unit.
type Dispatcher struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// mu serializes Forward and ApplyLearning. The compute unit is one
	// shared resource; connections contend here, not in the unit.
	mu sync.Mutex

	forwardPasses    atomic.Uint64
	hebbianUpdates   atomic.Uint64
	gradients        atomic.Uint64
	weightSyncs      atomic.Uint64
	downstreamErrors atomic.Uint64
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Dispatcher{
		cfg:     cfg,
		logger:  logger.With(logging.KeyComponent, "dispatch"),
		metrics: cfg.Metrics,
	}
}

// Dispatch routes one data message. Messages the dispatcher has no handler
// for are logged and dropped.
func (d *Dispatcher) Dispatch(src Source, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.ForwardData:
		d.handleForward(src, m)
	case *protocol.HebbianData:
		d.handleHebbian(src, m)
	case *protocol.BackwardData:
		d.handleBackward(src, m)
	case *protocol.WeightSync:
		d.handleWeightSync(src, m)
	default:
		d.logger.Debug("unhandled message type",
			logging.KeyPeer, src.RemoteID(),
			logging.KeyMsgType, protocol.MessageTypeName(msg.MessageType()))
	}
}

// Stats returns a snapshot of dispatcher activity.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		ForwardPasses:    d.forwardPasses.Load(),
		HebbianUpdates:   d.hebbianUpdates.Load(),
		Gradients:        d.gradients.Load(),
		WeightSyncs:      d.weightSyncs.Load(),
		DownstreamErrors: d.downstreamErrors.Load(),
	}
}

func (d *Dispatcher) handleForward(src Source, msg *protocol.ForwardData) {
	if d.cfg.Unit == nil {
		d.logger.Debug("no compute unit, dropping activations",
			logging.KeyPeer, src.RemoteID(),
			logging.KeyLayer, msg.LayerID)
		return
	}

	start := time.Now()
	inputs := toFloat64(msg.Values)

	d.mu.Lock()
	outputs := d.cfg.Unit.Forward(inputs)
	if d.cfg.HebbianLearning {
		d.cfg.Unit.ApplyLearning(inputs, d.cfg.LearningRate)
	}
	d.mu.Unlock()

	d.forwardPasses.Add(1)
	if d.cfg.HebbianLearning {
		d.hebbianUpdates.Add(1)
	}
	if d.metrics != nil {
		d.metrics.RecordForward(time.Since(start).Seconds(), len(inputs))
		if d.cfg.HebbianLearning {
			d.metrics.RecordHebbianUpdate()
		}
	}

	d.logger.Debug("forward pass complete",
		logging.KeyPeer, src.RemoteID(),
		logging.KeyLayer, msg.LayerID,
		logging.KeyCount, len(inputs),
		logging.KeyDuration, time.Since(start).Round(time.Microsecond))

	d.fanOut(outputs)
}

func (d *Dispatcher) handleHebbian(src Source, msg *protocol.HebbianData) {
	if d.cfg.Unit == nil {
		d.logger.Debug("no compute unit, dropping correlations",
			logging.KeyPeer, src.RemoteID(),
			logging.KeyLayer, msg.LayerID)
		return
	}
	if !d.cfg.HebbianLearning {
		d.logger.Debug("hebbian learning disabled, dropping update",
			logging.KeyPeer, src.RemoteID(),
			logging.KeyLayer, msg.LayerID)
		return
	}

	correlations := toFloat64(msg.Correlations)

	d.mu.Lock()
	d.cfg.Unit.ApplyLearning(correlations, float64(msg.LearningRate))
	d.mu.Unlock()

	d.hebbianUpdates.Add(1)
	if d.metrics != nil {
		d.metrics.RecordHebbianUpdate()
	}

	d.logger.Debug("hebbian update applied",
		logging.KeyPeer, src.RemoteID(),
		logging.KeyLayer, msg.LayerID,
		logging.KeyCount, len(correlations),
		"rate", msg.LearningRate)
}

func (d *Dispatcher) handleBackward(src Source, msg *protocol.BackwardData) {
	d.gradients.Add(1)
	d.logger.Debug("received gradients",
		logging.KeyPeer, src.RemoteID(),
		logging.KeyLayer, msg.LayerID,
		logging.KeyCount, len(msg.Gradients))
	if d.cfg.OnBackward != nil {
		d.cfg.OnBackward(src, msg)
	}
}

func (d *Dispatcher) handleWeightSync(src Source, msg *protocol.WeightSync) {
	d.weightSyncs.Add(1)
	d.logger.Debug("received weight snapshot",
		logging.KeyPeer, src.RemoteID(),
		logging.KeyLayer, msg.LayerID,
		logging.KeyCount, len(msg.Weights))
	if d.cfg.OnWeightSync != nil {
		d.cfg.OnWeightSync(src, msg)
	}
}

// fanOut sends outputs to every downstream session that accepted forward
// propagation. Outputs enter the downstream node as its input layer, so
// outbound frames always carry layer 0.
func (d *Dispatcher) fanOut(outputs []float64) {
	if d.cfg.Downstreams == nil || len(outputs) == 0 {
		return
	}
	targets := d.cfg.Downstreams()
	if len(targets) == 0 {
		return
	}

	values := toFloat32(outputs)
	sent := 0
	for _, t := range targets {
		if !t.MaySend(protocol.CapForwardPropagation) {
			d.logger.Debug("downstream did not accept forward propagation",
				logging.KeyPeer, t.RemoteID())
			continue
		}
		if err := t.SendForward(0, values); err != nil {
			d.downstreamErrors.Add(1)
			if d.metrics != nil {
				d.metrics.RecordDownstreamSendError()
			}
			d.logger.Warn("downstream forward failed",
				logging.KeyPeer, t.RemoteID(),
				logging.KeyError, err)
			continue
		}
		sent++
	}

	if sent > 0 {
		d.logger.Debug("outputs forwarded",
			logging.KeyCount, len(values),
			"peers", sent)
	}
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}
