package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("boom")

func failing() error { return errUpstream }
func succeeding() error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	cb := New(Config{FailureThreshold: 5, Timeout: time.Minute})

	for i := 0; i < 5; i++ {
		if err := cb.Call(ctx, failing); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: error = %v, want upstream error", i, err)
		}
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open", got)
	}

	called := false
	err := cb.Call(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Call() error = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn was invoked while circuit open; want fail-fast")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	cb := New(Config{FailureThreshold: 3, Timeout: time.Minute})

	_ = cb.Call(ctx, failing)
	_ = cb.Call(ctx, failing)
	_ = cb.Call(ctx, succeeding)
	_ = cb.Call(ctx, failing)
	_ = cb.Call(ctx, failing)

	if got := cb.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed (consecutive count reset by success)", got)
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	ctx := context.Background()
	cb := New(Config{FailureThreshold: 1, Timeout: 20 * time.Millisecond})

	_ = cb.Call(ctx, failing)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open", got)
	}

	time.Sleep(30 * time.Millisecond)

	// First call after timeout is the probe; success closes the circuit.
	if err := cb.Call(ctx, succeeding); err != nil {
		t.Fatalf("probe call error = %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("State() after successful probe = %v, want closed", got)
	}
}

func TestCircuitBreaker_FailedProbeReopensAndResetsTimer(t *testing.T) {
	ctx := context.Background()
	cb := New(Config{FailureThreshold: 1, Timeout: 40 * time.Millisecond})

	_ = cb.Call(ctx, failing)
	time.Sleep(50 * time.Millisecond)

	if err := cb.Call(ctx, failing); !errors.Is(err, errUpstream) {
		t.Fatalf("probe call error = %v, want upstream error", err)
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() after failed probe = %v, want open", got)
	}

	// Timer restarted: an immediate call still fails fast.
	if err := cb.Call(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Call() error = %v, want ErrCircuitOpen (window reset)", err)
	}
}

func TestCircuitBreaker_SingleProbeAdmitted(t *testing.T) {
	ctx := context.Background()
	cb := New(Config{FailureThreshold: 1, Timeout: 10 * time.Millisecond})

	_ = cb.Call(ctx, failing)
	time.Sleep(20 * time.Millisecond)

	blocked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = cb.Call(ctx, func() error {
			close(blocked)
			<-release
			return nil
		})
	}()
	<-blocked

	// Probe in flight: concurrent callers fail fast.
	if err := cb.Call(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent call error = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	ctx := context.Background()
	var transitions []string
	cb := New(Config{
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Call(ctx, failing)
	time.Sleep(20 * time.Millisecond)
	_ = cb.Call(ctx, succeeding)

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}
