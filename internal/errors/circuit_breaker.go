package errors

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// Closed means probes are flowing normally.
	Closed CircuitState = iota
	// Open means the target looks unreachable and the session should stop.
	Open
)

// String returns the string representation of CircuitState.
func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after a run of consecutive transport failures
// against one service. Any HTTP response, whatever its status, resets the
// run. There is no half-open state: an open breaker ends the session and
// the remaining work waits for the next resume.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int
	state     CircuitState
	failures  int
	lastError time.Time
}

// NewCircuitBreaker creates a breaker. A threshold below 1 never trips.
func NewCircuitBreaker(threshold int) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold}
}

// RecordSuccess resets the consecutive failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
}

// RecordFailure counts a transport failure and reports whether the breaker is open.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastError = time.Now()
	if cb.threshold > 0 && cb.failures >= cb.threshold && cb.state == Closed {
		cb.state = Open
	}
	return cb.state == Open
}

// Stats returns current statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:           cb.state,
		Failures:        cb.failures,
		Threshold:       cb.threshold,
		LastFailureTime: cb.lastError,
	}
}

// CircuitBreakerStats holds circuit breaker statistics.
type CircuitBreakerStats struct {
	State           CircuitState
	Failures        int
	Threshold       int
	LastFailureTime time.Time
}
