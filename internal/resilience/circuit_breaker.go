package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Probing whether the dependency recovered
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is invoked after every state transition, outside the lock.
type StateChangeFunc func(name string, from, to CircuitState)

// CircuitBreaker fails fast after maxFailures consecutive failures and
// lets a trial request through once resetTimeout has elapsed.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int // successes needed in half-open to close again
	now          func() time.Time
	onChange     StateChangeFunc

	mu                sync.RWMutex
	state             CircuitState
	failureCount      int
	successCount      int
	halfOpenInFlight  int
	lastFailTime      time.Time
	requestCount      int64
	failureCountTotal int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  1,
		now:          time.Now,
		state:        StateClosed,
	}
}

// OnStateChange registers a transition hook (used for metrics and logs).
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Call executes fn with circuit breaker protection. A rejected call
// returns ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.RecordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	from := cb.state
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.lastFailTime) >= cb.resetTimeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			cb.halfOpenInFlight = 1
			allowed = true
		}
	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.halfOpenMax {
			cb.halfOpenInFlight++
			allowed = true
		}
	}

	to, hook := cb.state, cb.onChange
	cb.mu.Unlock()

	if from != to && hook != nil {
		hook(cb.name, from, to)
	}
	return allowed
}

// RecordResult records the outcome of a request made outside Call.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	from := cb.state
	cb.requestCount++

	if success {
		cb.recordSuccess()
	} else {
		cb.recordFailure()
	}

	to, hook := cb.state, cb.onChange
	cb.mu.Unlock()

	if from != to && hook != nil {
		hook(cb.name, from, to)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		if cb.successCount >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.halfOpenInFlight = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failureCountTotal++
	cb.lastFailTime = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		// Any failure while probing reopens the circuit.
		cb.state = StateOpen
		cb.successCount = 0
		cb.halfOpenInFlight = 0
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	state = cb.state
	requestCount = cb.requestCount
	failureCount = cb.failureCountTotal

	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}

	return
}

// Reset manually resets the circuit breaker to closed state and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenInFlight = 0
	cb.requestCount = 0
	cb.failureCountTotal = 0
	hook := cb.onChange
	cb.mu.Unlock()

	if from != StateClosed && hook != nil {
		hook(cb.name, from, StateClosed)
	}
}
