package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "test", RetryConfig{MaxAttempts: 5, InitialDelay: time.Microsecond}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("permanent")
	err := Retry(context.Background(), "test", RetryConfig{MaxAttempts: 2, InitialDelay: time.Microsecond}, func() error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want the last attempt's error wrapped", err)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, "test", RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour}, func() error {
		calls++
		return errors.New("failing")
	})
	if err == nil {
		t.Fatal("cancelled retry must return an error")
	}
	if calls > 1 {
		t.Errorf("cancelled retry kept going: %d calls", calls)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
	})

	failing := func() error { return errors.New("down") }
	for i := 0; i < 2; i++ {
		if err := cb.Execute(failing); err == nil {
			t.Fatal("failing call reported success")
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v after threshold failures, want open", cb.GetState())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker let a call through: %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v after successful probe, want closed", cb.GetState())
	}
}

func TestCircuitBreakerNotifiesStateChanges(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     5 * time.Millisecond,
	})

	var states []State
	cb.OnStateChange(func(name string, state State) {
		if name != "test" {
			t.Errorf("listener got name %q, want %q", name, "test")
		}
		states = append(states, state)
	})
	if len(states) != 1 || states[0] != StateClosed {
		t.Fatalf("registration must report the current state, got %v", states)
	}

	_ = cb.Execute(func() error { return errors.New("down") }) // closed -> open
	time.Sleep(10 * time.Millisecond)
	_ = cb.Execute(func() error { return nil }) // open -> half-open -> closed

	want := []State{StateClosed, StateOpen, StateHalfOpen, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, "slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}

	if err := WithTimeout(context.Background(), time.Second, "fast", func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Errorf("fast call failed: %v", err)
	}
}
