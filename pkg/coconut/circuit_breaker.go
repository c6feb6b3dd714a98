package coconut

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState is the health the asset store breaker currently assumes.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// ErrCircuitOpen is returned without touching the store while the breaker is open.
var ErrCircuitOpen = errors.New("asset store circuit is open")

// CircuitBreaker guards calls to the persistent asset store.
type CircuitBreaker interface {
	// Execute runs fn unless the store is considered down.
	Execute(ctx context.Context, fn func() error) error
	// State returns the current state.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker opens after failureThreshold consecutive store
// failures. Once resetTimeout has passed a single trial call is let through;
// its outcome closes or re-opens the circuit.
type DefaultCircuitBreaker struct {
	mu sync.Mutex

	state            CircuitBreakerState
	failureThreshold int
	resetTimeout     time.Duration
	failures         int
	openedAt         time.Time
	trialInFlight    bool

	now           func() time.Time
	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a closed breaker. Non-positive arguments
// fall back to 5 failures and 30s.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn unless the circuit is open or a half-open trial is already
// running.
func (cb *DefaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.record(trial, countsAgainstStore(err))
	return err
}

func (cb *DefaultCircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.changeState(StateHalfOpen)
	}
	if cb.trialInFlight {
		return false, ErrCircuitOpen
	}
	cb.trialInFlight = true
	return true, nil
}

func (cb *DefaultCircuitBreaker) record(trial, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
		if failed {
			cb.open()
		} else {
			cb.failures = 0
			cb.changeState(StateClosed)
		}
		return
	}

	// a call admitted before the circuit opened finishes late
	if cb.state != StateClosed {
		return
	}
	if !failed {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.failures >= cb.failureThreshold {
		cb.open()
	}
}

func (cb *DefaultCircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.changeState(StateOpen)
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}

// countsAgainstStore reports whether err says something about store health.
// A miss is a normal answer and a cancelled caller is not the store's fault.
func countsAgainstStore(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
