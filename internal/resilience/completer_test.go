package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/verbamed/verbamed/internal/resilience"
)

// flakyCompleter fails a fixed number of times before recovering.
type flakyCompleter struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyCompleter) Complete(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return "", errors.New("provider unavailable")
	}
	return "a clinical summary", nil
}

func (f *flakyCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestGuardedCompleter_PassesThroughOnSuccess(t *testing.T) {
	t.Parallel()

	g := resilience.NewGuardedCompleter(&flakyCompleter{}, resilience.CircuitBreakerConfig{})
	reply, err := g.Complete(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "a clinical summary" {
		t.Fatalf("reply = %q", reply)
	}
	if g.State() != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", g.State())
	}
}

func TestGuardedCompleter_TripsAndShortCircuits(t *testing.T) {
	t.Parallel()

	inner := &flakyCompleter{failures: 100}
	g := resilience.NewGuardedCompleter(inner, resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	for i := 0; i < 2; i++ {
		if _, err := g.Complete(context.Background(), "s", "u"); err == nil {
			t.Fatalf("call %d: expected provider error", i)
		}
	}
	if g.State() != resilience.StateOpen {
		t.Fatalf("state = %v, want open", g.State())
	}

	// The provider must not be consulted while the breaker is open.
	before := inner.callCount()
	_, err := g.Complete(context.Background(), "s", "u")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if inner.callCount() != before {
		t.Fatal("provider was called while the breaker was open")
	}
}

// canceledCompleter always reports the caller's cancellation.
type canceledCompleter struct{}

func (canceledCompleter) Complete(context.Context, string, string) (string, error) {
	return "", context.Canceled
}

func TestGuardedCompleter_CallerCancellationDoesNotTrip(t *testing.T) {
	t.Parallel()

	g := resilience.NewGuardedCompleter(canceledCompleter{}, resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	for i := 0; i < 10; i++ {
		if _, err := g.Complete(context.Background(), "s", "u"); !errors.Is(err, context.Canceled) {
			t.Fatalf("call %d: err = %v, want context.Canceled", i, err)
		}
	}
	if g.State() != resilience.StateClosed {
		t.Fatalf("state = %v, want closed after caller cancellations", g.State())
	}
}

func TestGuardedCompleter_RecoversAfterTimeout(t *testing.T) {
	t.Parallel()

	inner := &flakyCompleter{failures: 2}
	g := resilience.NewGuardedCompleter(inner, resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
	})

	for i := 0; i < 2; i++ {
		_, _ = g.Complete(context.Background(), "s", "u")
	}
	time.Sleep(15 * time.Millisecond)

	reply, err := g.Complete(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("probe after reset failed: %v", err)
	}
	if reply != "a clinical summary" {
		t.Fatalf("reply = %q", reply)
	}
	if g.State() != resilience.StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", g.State())
	}
}
