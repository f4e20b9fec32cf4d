package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBulkhead_LimitsConcurrency(t *testing.T) {
	b := NewBulkhead("test", 2)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Do(context.Background(), func(ctx context.Context) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("Expected at most 2 concurrent calls, got %d", peak.Load())
	}
}

func TestBulkhead_RespectsContext(t *testing.T) {
	b := NewBulkhead("test", 1)
	release := make(chan struct{})
	go b.Do(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Do(ctx, func(ctx context.Context) error { return nil })
	close(release)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestGuard_RetriesTransientErrors(t *testing.T) {
	g := NewGuard("guard_retry", GuardConfig{
		Concurrency:  1,
		MaxFailures:  10,
		ResetTimeout: time.Second,
		Retry:        &RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1},
	})

	attempts := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success after retry, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestGuard_DoesNotRetryPermanentErrors(t *testing.T) {
	g := NewGuard("guard_permanent", GuardConfig{
		Concurrency:  1,
		MaxFailures:  10,
		ResetTimeout: time.Second,
		Retry:        &RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1},
	})

	attempts := 0
	g.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("invalid api key")
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestGuard_AppliesTimeout(t *testing.T) {
	g := NewGuard("guard_timeout", GuardConfig{
		Timeout:      10 * time.Millisecond,
		Concurrency:  1,
		MaxFailures:  10,
		ResetTimeout: time.Second,
		Retry:        &RetryConfig{MaxAttempts: 1},
	})

	err := g.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestGuard_OpensBreaker(t *testing.T) {
	g := NewGuard("guard_breaker", GuardConfig{
		Concurrency:  1,
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		Retry:        &RetryConfig{MaxAttempts: 1},
	})

	fail := func(ctx context.Context) error { return errors.New("boom") }
	g.Do(context.Background(), fail)
	g.Do(context.Background(), fail)

	called := false
	err := g.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	if called {
		t.Error("Expected open breaker to short-circuit the call")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if g.Breaker().GetState() != StateOpen {
		t.Errorf("Expected breaker Open, got %v", g.Breaker().GetState())
	}
}
