// Package loadtest provides load generation utilities for axond.
package loadtest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axonlab/axond/internal/protocol"
	"golang.org/x/time/rate"
)

// ForwardMetrics contains metrics from forward-pass load generation.
type ForwardMetrics struct {
	TotalFrames     int64
	FailedFrames    int64
	TotalBytes      int64
	SessionsOpened  int64
	SessionsFailed  int64
	Duration        time.Duration
	FramesPerSecond float64
	ThroughputMBps  float64
}

// ForwardSender is the slice of a peer session the generator drives.
type ForwardSender interface {
	SendForward(layerID uint8, values []float32) error
	Close() error
}

// SessionFactory opens a session ready to carry data frames.
type SessionFactory func() (ForwardSender, error)

// ForwardLoadGenerator pushes forward activations over concurrent
// sessions. Each worker holds one session open for the whole run;
// session setup cost is the churn tester's concern.
type ForwardLoadGenerator struct {
	concurrency int
	vectorSize  int
	duration    time.Duration
	limiter     *rate.Limiter

	metrics ForwardMetrics
}

// NewForwardLoadGenerator creates a forward-pass load generator.
// framesPerSecond caps the aggregate send rate across all workers;
// zero means unlimited.
func NewForwardLoadGenerator(concurrency, vectorSize, framesPerSecond int, duration time.Duration) *ForwardLoadGenerator {
	g := &ForwardLoadGenerator{
		concurrency: concurrency,
		vectorSize:  vectorSize,
		duration:    duration,
	}
	if framesPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(framesPerSecond), concurrency)
	}
	return g
}

// Run executes the forward load test using the provided session factory.
func (g *ForwardLoadGenerator) Run(ctx context.Context, factory SessionFactory) (*ForwardMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, g.duration)
	defer cancel()

	var wg sync.WaitGroup
	startTime := time.Now()

	for i := 0; i < g.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.runWorker(ctx, factory)
		}()
	}

	wg.Wait()
	g.metrics.Duration = time.Since(startTime)

	// Calculate derived metrics
	if g.metrics.Duration > 0 {
		seconds := g.metrics.Duration.Seconds()
		sent := g.metrics.TotalFrames - g.metrics.FailedFrames
		g.metrics.FramesPerSecond = float64(sent) / seconds
		g.metrics.ThroughputMBps = float64(g.metrics.TotalBytes) / (1024 * 1024) / seconds
	}

	return &g.metrics, nil
}

func (g *ForwardLoadGenerator) runWorker(ctx context.Context, factory SessionFactory) {
	sender, err := factory()
	if err != nil {
		atomic.AddInt64(&g.metrics.SessionsFailed, 1)
		return
	}
	atomic.AddInt64(&g.metrics.SessionsOpened, 1)
	defer sender.Close()

	// Synthetic activation vector, normalized to [0, 1)
	values := make([]float32, g.vectorSize)
	for i := range values {
		values[i] = float32(i%255) / 255
	}

	// Header plus layer id, count and the float payload
	frameBytes := int64(protocol.HeaderSize + 5 + 4*g.vectorSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return
			}
		}

		if err := sender.SendForward(0, values); err != nil {
			atomic.AddInt64(&g.metrics.FailedFrames, 1)
			atomic.AddInt64(&g.metrics.TotalFrames, 1)
			return
		}
		atomic.AddInt64(&g.metrics.TotalBytes, frameBytes)
		atomic.AddInt64(&g.metrics.TotalFrames, 1)
	}
}

// ChurnMetrics contains metrics from session churn testing.
type ChurnMetrics struct {
	TotalSessions       int64
	SuccessfulConnects  int64
	FailedConnects      int64
	TotalDisconnects    int64
	AvgConnectTimeMs    float64
	AvgDisconnectTimeMs float64
	Duration            time.Duration
	ChurnRate           float64
}

// ConnectFunc establishes one session and returns a close function.
type ConnectFunc func() (closeFunc func() error, err error)

// SessionChurnTester measures repeated session setup and teardown:
// dial, handshake, hold briefly, disconnect.
type SessionChurnTester struct {
	concurrency int
	duration    time.Duration
	mu          sync.Mutex
}

// NewSessionChurnTester creates a new session churn tester.
func NewSessionChurnTester(concurrency int, duration time.Duration) *SessionChurnTester {
	return &SessionChurnTester{
		concurrency: concurrency,
		duration:    duration,
	}
}

// Run executes the session churn test.
func (t *SessionChurnTester) Run(ctx context.Context, connectFn ConnectFunc) (*ChurnMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, t.duration)
	defer cancel()

	var wg sync.WaitGroup
	metrics := &ChurnMetrics{}
	startTime := time.Now()

	for i := 0; i < t.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.runChurnWorker(ctx, connectFn, metrics)
		}()
	}

	wg.Wait()
	metrics.Duration = time.Since(startTime)

	// Calculate derived metrics
	if metrics.Duration > 0 {
		metrics.ChurnRate = float64(metrics.TotalSessions) / metrics.Duration.Seconds()
	}
	if metrics.SuccessfulConnects > 0 {
		metrics.AvgConnectTimeMs = metrics.AvgConnectTimeMs / float64(metrics.SuccessfulConnects)
	}
	if metrics.TotalDisconnects > 0 {
		metrics.AvgDisconnectTimeMs = metrics.AvgDisconnectTimeMs / float64(metrics.TotalDisconnects)
	}

	return metrics, nil
}

func (t *SessionChurnTester) runChurnWorker(ctx context.Context, connectFn ConnectFunc, metrics *ChurnMetrics) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		connectStart := time.Now()
		closeFunc, err := connectFn()
		connectDuration := time.Since(connectStart)

		atomic.AddInt64(&metrics.TotalSessions, 1)
		if err != nil {
			atomic.AddInt64(&metrics.FailedConnects, 1)
			continue
		}

		atomic.AddInt64(&metrics.SuccessfulConnects, 1)
		t.mu.Lock()
		metrics.AvgConnectTimeMs += millis(connectDuration)
		t.mu.Unlock()

		// Hold the session briefly between connect and disconnect
		time.Sleep(10 * time.Millisecond)

		disconnectStart := time.Now()
		if closeFunc != nil {
			closeFunc()
		}
		disconnectDuration := time.Since(disconnectStart)

		atomic.AddInt64(&metrics.TotalDisconnects, 1)
		t.mu.Lock()
		metrics.AvgDisconnectTimeMs += millis(disconnectDuration)
		t.mu.Unlock()
	}
}

// millis converts a duration to milliseconds without losing the
// sub-millisecond part, which dominates on loopback
func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
