package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		Timeout:          50 * time.Millisecond,
		RecoveryTimeout:  30 * time.Millisecond,
		SuccessThreshold: 2,
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	b := New("test", testConfig())
	if b.State() != Closed {
		t.Errorf("new breaker state = %v, want Closed", b.State())
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("test", testConfig())
	failErr := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Call(context.Background(), func(ctx context.Context) error { return failErr })
		if !errors.Is(err, failErr) {
			t.Fatalf("call %d: err = %v, want %v", i, err, failErr)
		}
	}

	if b.State() != Open {
		t.Errorf("state after %d failures = %v, want Open", 3, b.State())
	}

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("call while open: err = %v, want ErrOpen", err)
	}
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New("test", testConfig())
	failErr := errors.New("boom")

	for i := 0; i < 3; i++ {
		b.Call(context.Background(), func(ctx context.Context) error { return failErr })
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}

	time.Sleep(40 * time.Millisecond)

	if err := b.Call(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("first probe call after recovery timeout failed: %v", err)
	}
	if b.State() != HalfOpen {
		t.Errorf("state after one success in half-open = %v, want HalfOpen", b.State())
	}
}

func TestBreakerClosesAfterSuccessThresholdInHalfOpen(t *testing.T) {
	b := New("test", testConfig())
	failErr := errors.New("boom")

	for i := 0; i < 3; i++ {
		b.Call(context.Background(), func(ctx context.Context) error { return failErr })
	}
	time.Sleep(40 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Call(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("success call %d failed: %v", i, err)
		}
	}

	if b.State() != Closed {
		t.Errorf("state after success threshold = %v, want Closed", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("test", testConfig())
	failErr := errors.New("boom")

	for i := 0; i < 3; i++ {
		b.Call(context.Background(), func(ctx context.Context) error { return failErr })
	}
	time.Sleep(40 * time.Millisecond)

	b.Call(context.Background(), func(ctx context.Context) error { return failErr })

	if b.State() != Open {
		t.Errorf("state after half-open failure = %v, want Open", b.State())
	}
}

func TestBreakerCallTimeout(t *testing.T) {
	b := New("test", testConfig())

	err := b.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestBreakerReset(t *testing.T) {
	b := New("test", testConfig())
	failErr := errors.New("boom")

	for i := 0; i < 3; i++ {
		b.Call(context.Background(), func(ctx context.Context) error { return failErr })
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}

	b.Reset()

	if b.State() != Closed {
		t.Errorf("state after Reset = %v, want Closed", b.State())
	}
	stats := b.Stats()
	if stats.Counts.TotalFailures != 3 {
		t.Errorf("cumulative TotalFailures after Reset = %d, want 3 (reset must not clear counters)", stats.Counts.TotalFailures)
	}
}

func TestBreakerConcurrentCalls(t *testing.T) {
	b := New("test", testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Call(context.Background(), func(ctx context.Context) error {
				if i%2 == 0 {
					return errors.New("fail")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	stats := b.Stats()
	if stats.Counts.TotalRequests != 50 {
		t.Errorf("TotalRequests = %d, want 50", stats.Counts.TotalRequests)
	}
}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry()
	b1 := r.GetOrCreate("model_a", testConfig())
	b2 := r.GetOrCreate("model_a", testConfig())

	if b1 != b2 {
		t.Error("GetOrCreate returned different instances for the same name")
	}
}

func TestRegistryAllStats(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate("model_a", testConfig())
	r.GetOrCreate("model_b", testConfig())

	stats := r.AllStats()
	if len(stats) != 2 {
		t.Errorf("len(AllStats()) = %d, want 2", len(stats))
	}
}
