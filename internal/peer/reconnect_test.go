package peer

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReconnectorRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	r := NewReconnector(ReconnectConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2,
	}, nil, func(addr string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	t.Cleanup(r.Stop)

	r.Schedule("10.0.0.1:4040")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	})
	waitFor(t, func() bool { return !r.IsPending("10.0.0.1:4040") })

	mu.Lock()
	final := calls
	mu.Unlock()
	if final != 3 {
		t.Errorf("callback ran %d times, want 3", final)
	}
}

func TestReconnectorScheduleIsIdempotent(t *testing.T) {
	fired := make(chan string, 4)
	r := NewReconnector(ReconnectConfig{
		InitialDelay: 30 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}, nil, func(addr string) error {
		fired <- addr
		return nil
	})
	t.Cleanup(r.Stop)

	r.Schedule("peer:1")
	r.Schedule("peer:1")
	r.Schedule("peer:1")

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
	select {
	case <-fired:
		t.Fatal("coalesced schedules ran the callback more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectorCancel(t *testing.T) {
	fired := make(chan struct{}, 1)
	r := NewReconnector(ReconnectConfig{
		InitialDelay: 30 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}, nil, func(string) error {
		fired <- struct{}{}
		return nil
	})
	t.Cleanup(r.Stop)

	r.Schedule("peer:1")
	if !r.IsPending("peer:1") {
		t.Fatal("not pending after Schedule")
	}
	if got := r.GetAttempts("peer:1"); got != 0 {
		t.Errorf("attempts before first run = %d, want 0", got)
	}
	if got := r.GetAttempts("peer:unknown"); got != 0 {
		t.Errorf("attempts for unknown address = %d, want 0", got)
	}

	r.Cancel("peer:1")
	if r.IsPending("peer:1") {
		t.Fatal("still pending after Cancel")
	}
	select {
	case <-fired:
		t.Fatal("callback ran after Cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectorMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	r := NewReconnector(ReconnectConfig{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   1.5,
		MaxAttempts:  2,
	}, nil, func(string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("still down")
	})
	t.Cleanup(r.Stop)

	r.Schedule("peer:1")
	waitFor(t, func() bool { return !r.IsPending("peer:1") })
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	n := calls
	mu.Unlock()
	if n != 2 {
		t.Errorf("callback ran %d times, want 2", n)
	}
}

func TestReconnectorStop(t *testing.T) {
	fired := make(chan struct{}, 1)
	r := NewReconnector(ReconnectConfig{
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}, nil, func(string) error {
		fired <- struct{}{}
		return nil
	})

	r.Schedule("peer:1")
	r.Stop()
	select {
	case <-fired:
		t.Fatal("callback ran after Stop")
	case <-time.After(80 * time.Millisecond):
	}

	// New schedules after Stop are rejected.
	r.Schedule("peer:2")
	if r.IsPending("peer:2") {
		t.Error("Schedule accepted after Stop")
	}
}

func TestAddJitter(t *testing.T) {
	r := NewReconnector(ReconnectConfig{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		Jitter:       0.2,
	}, nil, func(string) error { return nil })

	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := r.addJitter(base)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jittered delay %s outside [80ms, 120ms]", d)
		}
	}

	r.cfg.Jitter = 0
	if d := r.addJitter(base); d != base {
		t.Errorf("zero jitter changed delay to %s", d)
	}
}
