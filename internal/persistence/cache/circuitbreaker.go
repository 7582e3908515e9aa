package cache

import (
	"fmt"
	"sync"
	"time"
)

// breakerState is the circuit breaker's current mode.
type breakerState int

const (
	breakerClosed   breakerState = iota // normal operation, requests pass through
	breakerOpen                         // tripped, requests rejected immediately
	breakerHalfOpen                     // probing with one request after the reset timeout
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// circuitBreaker wraps Redis calls so a string of failures (a down or
// saturated Redis) trips the breaker and fails fast for resetTimeout
// instead of piling up slow timeouts on every backtest candle fetch. After
// the timeout it allows one probe call through; success closes the
// breaker, failure reopens it.
type circuitBreaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
}

func newCircuitBreaker(maxFailures int, resetTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

// errCircuitOpen is returned by Execute when the breaker is open and the
// reset timeout hasn't elapsed yet.
var errCircuitOpen = fmt.Errorf("cache: circuit breaker is open")

func (cb *circuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case breakerOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = breakerHalfOpen
		} else {
			cb.mu.Unlock()
			return errCircuitOpen
		}
	case breakerHalfOpen:
		// a probe call is already in flight; reject until it settles
		cb.mu.Unlock()
		return errCircuitOpen
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.state == breakerHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = breakerOpen
		}
		return err
	}

	cb.state = breakerClosed
	cb.failures = 0
	return nil
}

func (cb *circuitBreaker) currentState() breakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
