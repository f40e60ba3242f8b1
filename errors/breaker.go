package errors

import (
	"context"
	"sync"
	"time"
)

// ErrCodeCircuitOpen is returned while a breaker refuses calls.
const ErrCodeCircuitOpen = "CIRCUIT_BREAKER_OPEN"

type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
	// MaxRequests is how many trial calls must succeed while half-open
	// before the breaker closes again.
	MaxRequests int `json:"max_requests"`
}

type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "closed"
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker stops calling a failing host until ResetTimeout has passed.
// The image fetcher keeps one per scraped host.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	openedAt time.Time
	trials   int
}

// NewCircuitBreaker returns a closed breaker. A nil cfg trips after five
// failures and retries a minute later.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		cfg: CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute, MaxRequests: 1},
		now: time.Now,
	}
	if cfg != nil {
		cb.cfg = *cfg
	}
	if cb.cfg.MaxRequests < 1 {
		cb.cfg.MaxRequests = 1
	}
	return cb
}

// Execute runs op unless the breaker is open. Any error op returns counts as
// a failure, so callers hide errors that say nothing about the host's health.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.allow() {
		appErr := NewExternalServiceError(ErrCodeCircuitOpen, "circuit breaker is open, operation not allowed", nil)
		appErr.Retryable = false
		return appErr
	}
	err := op()
	cb.record(err == nil)
	return err
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitBreakerOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false
		}
		cb.state = CircuitBreakerHalfOpen
		cb.trials = 0
	}
	return cb.state == CircuitBreakerClosed || cb.trials < cb.cfg.MaxRequests
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case ok && cb.state == CircuitBreakerHalfOpen:
		cb.trials++
		if cb.trials >= cb.cfg.MaxRequests {
			cb.state, cb.failures = CircuitBreakerClosed, 0
		}
	case ok:
		cb.failures = 0
	case cb.state == CircuitBreakerHalfOpen:
		cb.trip()
	default:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = CircuitBreakerOpen
	cb.openedAt = cb.now()
}
