package circuitbreaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jonesrussell/leadflow/internal/circuitbreaker"
)

var errDownstream = errors.New("downstream failed")

func newTestBreaker(threshold int, resetTimeout time.Duration) *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             "test",
		FailureThreshold: threshold,
		ResetTimeout:     resetTimeout,
	})
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errDownstream })
		if b.State() != circuitbreaker.StateClosed {
			t.Fatalf("state after %d failures = %v, want closed", i+1, b.State())
		}
	}

	_ = b.Execute(func() error { return errDownstream })
	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("state after threshold failures = %v, want open", b.State())
	}
}

func TestBreaker_RejectsWithoutInvokingWhileOpen(t *testing.T) {
	b := newTestBreaker(1, time.Minute)
	_ = b.Execute(func() error { return errDownstream })

	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})

	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("Execute() error = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Error("wrapped function invoked while circuit open")
	}
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)
	_ = b.Execute(func() error { return errDownstream })

	time.Sleep(15 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe Execute() error = %v", err)
	}
	if b.State() != circuitbreaker.StateClosed {
		t.Fatalf("state after successful probe = %v, want closed", b.State())
	}
	if got := b.GetStats().FailureCount; got != 0 {
		t.Errorf("failure count after close = %d, want 0", got)
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)
	_ = b.Execute(func() error { return errDownstream })

	time.Sleep(15 * time.Millisecond)

	_ = b.Execute(func() error { return errDownstream })
	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("state after failed probe = %v, want open", b.State())
	}

	// Failure clock was reset, so the very next call is rejected again
	err := b.Execute(func() error { return nil })
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("Execute() after failed probe error = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_ManualReset(t *testing.T) {
	b := newTestBreaker(1, time.Hour)
	_ = b.Execute(func() error { return errDownstream })
	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	b.Reset()
	if b.State() != circuitbreaker.StateClosed {
		t.Fatalf("state after Reset = %v, want closed", b.State())
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute() after Reset error = %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	_ = b.Execute(func() error { return errDownstream })
	_ = b.Execute(func() error { return errDownstream })
	_ = b.Execute(func() error { return nil })

	// Two more failures must not reach the threshold of three
	_ = b.Execute(func() error { return errDownstream })
	_ = b.Execute(func() error { return errDownstream })
	if b.State() != circuitbreaker.StateClosed {
		t.Fatalf("state = %v, want closed (counter should reset on success)", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	b := circuitbreaker.New(circuitbreaker.Config{
		Name:             "notify",
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(func() error { return errDownstream })
	b.Reset()

	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}
