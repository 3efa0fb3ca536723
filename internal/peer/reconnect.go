package peer

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/axonlab/axond/internal/logging"
)

// ReconnectConfig tunes the exponential backoff applied to lost
// outbound links.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxAttempts caps retries per address, zero means unlimited.
	MaxAttempts int

	// Jitter is the random fraction by which each delay is spread.
	Jitter float64
}

// DefaultReconnectConfig returns the standard backoff parameters.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  0,
		Jitter:       0.2,
	}
}

type reconnectState struct {
	attempts  int
	nextDelay time.Duration
	timer     *time.Timer
}

// Reconnector schedules reconnect attempts with exponential backoff. At
// most one attempt per address is pending or in flight at a time.
type Reconnector struct {
	cfg      ReconnectConfig
	logger   *slog.Logger
	callback func(addr string) error

	mu      sync.Mutex
	states  map[string]*reconnectState
	stopped bool
}

// NewReconnector creates a reconnector that invokes callback for each
// attempt. A nil error from the callback ends the retry cycle.
func NewReconnector(cfg ReconnectConfig, logger *slog.Logger, callback func(addr string) error) *Reconnector {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Reconnector{
		cfg:      cfg,
		logger:   logger,
		callback: callback,
		states:   make(map[string]*reconnectState),
	}
}

// Schedule queues a reconnect attempt for addr. It is a no-op when one
// is already pending or in flight.
func (r *Reconnector) Schedule(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	if _, exists := r.states[addr]; exists {
		return
	}

	delay := r.addJitter(r.cfg.InitialDelay)
	state := &reconnectState{nextDelay: r.cfg.InitialDelay}
	state.timer = time.AfterFunc(delay, func() {
		r.attempt(addr)
	})
	r.states[addr] = state

	r.logger.Debug("reconnect scheduled",
		logging.KeyAddress, addr,
		logging.KeyDuration, delay)
}

func (r *Reconnector) attempt(addr string) {
	r.mu.Lock()
	state, ok := r.states[addr]
	if !ok || r.stopped {
		r.mu.Unlock()
		return
	}
	state.attempts++
	attempts := state.attempts
	r.mu.Unlock()

	err := r.callback(addr)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Cancel or Stop may have removed the state while the callback ran.
	state, ok = r.states[addr]
	if !ok || r.stopped {
		return
	}
	if err == nil {
		delete(r.states, addr)
		return
	}

	if r.cfg.MaxAttempts > 0 && attempts >= r.cfg.MaxAttempts {
		delete(r.states, addr)
		r.logger.Warn("giving up on reconnect",
			logging.KeyAddress, addr,
			logging.KeyCount, attempts,
			logging.KeyError, err)
		return
	}

	next := time.Duration(float64(state.nextDelay) * r.cfg.Multiplier)
	if next > r.cfg.MaxDelay {
		next = r.cfg.MaxDelay
	}
	state.nextDelay = next

	delay := r.addJitter(next)
	state.timer = time.AfterFunc(delay, func() {
		r.attempt(addr)
	})

	r.logger.Debug("reconnect failed, backing off",
		logging.KeyAddress, addr,
		logging.KeyCount, attempts,
		logging.KeyDuration, delay,
		logging.KeyError, err)
}

// Cancel drops any pending reconnect for addr.
func (r *Reconnector) Cancel(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.states[addr]; ok {
		if state.timer != nil {
			state.timer.Stop()
		}
		delete(r.states, addr)
	}
}

// GetAttempts returns how many attempts have run for addr since its
// retry cycle started.
func (r *Reconnector) GetAttempts(addr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.states[addr]; ok {
		return state.attempts
	}
	return 0
}

// IsPending reports whether a reconnect is queued or in flight for addr.
func (r *Reconnector) IsPending(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.states[addr]
	return ok
}

// Stop cancels all pending reconnects and rejects new ones.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for addr, state := range r.states {
		if state.timer != nil {
			state.timer.Stop()
		}
		delete(r.states, addr)
	}
}

func (r *Reconnector) addJitter(d time.Duration) time.Duration {
	if r.cfg.Jitter <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * r.cfg.Jitter
	return time.Duration(float64(d) * (1 + spread))
}
