// Package resilience holds the fault-tolerance helpers the matcher wraps
// around its collaborators: a circuit breaker for the result cache, backoff
// retry for startup connections and deadlines for storage reads.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a single probe
	// call is let through. Default 30s.
	ResetTimeout time.Duration
	// IsFailure decides which errors count against the circuit. By default
	// every error except caller cancellation does.
	IsFailure func(error) bool
	// OnStateChange runs after each transition, outside the lock.
	OnStateChange func(name string, to State)
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// CircuitBreaker fails fast while a collaborator is known to be down. Only
// one probe runs in the half-open state; concurrent callers are rejected
// until it reports back.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig
	now  func() time.Time
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	return &CircuitBreaker{
		name: name,
		cfg:  cfg,
		now:  time.Now,
		log:  slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn unless the circuit is open and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// admit reports whether the call is the half-open probe, or ErrCircuitOpen.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var moved bool
	defer func() {
		cb.mu.Unlock()
		if moved {
			cb.notify(StateHalfOpen)
		}
	}()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return false, fmt.Errorf("%w: %s, retry in %v", ErrCircuitOpen, cb.name, wait)
		}
		cb.state = StateHalfOpen
		moved = true
		cb.log.Info("circuit half-open, probing")
	}
	if cb.probing {
		return false, fmt.Errorf("%w: %s, probe in flight", ErrCircuitOpen, cb.name)
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	failed := err != nil && cb.cfg.IsFailure(err)

	cb.mu.Lock()
	from := cb.state
	if probe {
		cb.probing = false
	}
	switch {
	case !failed && (from == StateClosed || probe):
		cb.failures = 0
		cb.state = StateClosed
	case failed && probe:
		cb.trip()
	case failed && from == StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		if to == StateClosed {
			cb.log.Info("circuit closed")
		} else {
			cb.log.Warn("circuit opened", "consecutive_failures", cb.failures, "error", err)
		}
		cb.notify(to)
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
}

// Reset closes the circuit and clears its failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
	cb.mu.Unlock()
	if from != StateClosed {
		cb.log.Info("circuit reset")
		cb.notify(StateClosed)
	}
}

func (cb *CircuitBreaker) notify(to State) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
