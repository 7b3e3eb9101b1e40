// Package circuitbreaker provides a circuit breaker for external service calls.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed means requests pass through normally
	StateClosed State = iota
	// StateOpen means requests are rejected without invoking the call
	StateOpen
	// StateHalfOpen means a single probe call is testing recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a circuit breaker
type Config struct {
	// Name identifies the downstream dependency this breaker guards
	Name string
	// FailureThreshold is the failure count that opens the circuit
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before allowing a probe
	ResetTimeout time.Duration
	// OnStateChange is an optional callback fired on transitions
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern. State and counters are
// per-instance; callers hold one breaker per downstream dependency.
type Breaker struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	probing         bool
	config          Config
}

// New creates a new circuit breaker with the given configuration
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}

	return &Breaker{
		state:  StateClosed,
		config: config,
	}
}

// Name returns the name of the guarded dependency
func (b *Breaker) Name() string {
	return b.config.Name
}

// Execute runs fn under circuit breaker protection. While the circuit is
// open, fn is not invoked and ErrCircuitOpen is returned immediately.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastFailureTime) < b.config.ResetTimeout {
			remaining := b.config.ResetTimeout - time.Since(b.lastFailureTime)
			return fmt.Errorf("%w: %s retries in %v", ErrCircuitOpen, b.config.Name, remaining)
		}
		b.transitionTo(StateHalfOpen)
	}

	if b.state == StateHalfOpen {
		// One probe at a time; concurrent callers are rejected until it resolves
		if b.probing {
			return fmt.Errorf("%w: %s probe in flight", ErrCircuitOpen, b.config.Name)
		}
		b.probing = true
	}

	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if err != nil {
		b.recordFailure()
		return
	}
	b.recordSuccess()
}

func (b *Breaker) recordFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// Failed probe reopens the circuit and restarts the reset clock
		b.transitionTo(StateOpen)
	case StateOpen:
	}
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.transitionTo(StateClosed)
	case StateOpen:
	}
}

// transitionTo must be called with the mutex held
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState

	if newState == StateClosed {
		b.failureCount = 0
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, oldState, newState)
	}
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed with counters zeroed.
// Operational override for when a downstream is known to have recovered.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.transitionTo(StateClosed)
	b.failureCount = 0
}

// Stats is a snapshot of breaker state for observability
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// GetStats returns current statistics
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:            b.config.Name,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}
