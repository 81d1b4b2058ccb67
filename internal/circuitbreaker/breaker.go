// Package circuitbreaker provides a sliding-window failure-rate circuit
// breaker that guards each gRPC backend connection.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dskow/api-gateway/internal/config"
	"github.com/dskow/api-gateway/internal/metrics"
)

// ErrOpen is returned by callers when a breaker rejects a request.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; requests pass through.
	StateOpen                  // Failing; requests are rejected immediately.
	StateHalfOpen              // Probing; a limited number of requests test recovery.
)

// String returns a human-readable state name.
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

// Breaker opens when the failure ratio over the most recent WindowSize
// outcomes reaches FailureThreshold. After ResetTimeout it lets up to
// HalfOpenMax probes through; that many successes close it again and any
// failure reopens it.
type Breaker struct {
	mu sync.Mutex

	state   State
	target  string
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Sliding window implemented as a ring buffer of failed flags.
	window   []bool
	head     int
	count    int
	failures int

	failureThreshold float64
	resetTimeout     time.Duration
	halfOpenMax      int

	halfOpenInFlight int
	halfOpenSuccess  int
	openedAt         time.Time
	now              func() time.Time
}

// New creates a closed breaker for target.
func New(target string, cfg config.CircuitBreakerConfig, m *metrics.Metrics, logger *slog.Logger) *Breaker {
	b := &Breaker{
		state:            StateClosed,
		target:           target,
		metrics:          m,
		logger:           logger,
		window:           make([]bool, cfg.WindowSize),
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		halfOpenMax:      cfg.HalfOpenMax,
		now:              time.Now,
	}
	m.CircuitBreakerState.WithLabelValues(target).Set(float64(StateClosed))
	return b
}

// Target returns the backend name the breaker guards.
func (b *Breaker) Target() string { return b.target }

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.transitionTo(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.halfOpenMax {
			return false
		}
		b.halfOpenInFlight++
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful backend call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.recordOutcome(false)
	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.halfOpenMax {
			b.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed backend call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.recordOutcome(true)
		if b.count == len(b.window) && b.failureRate() >= b.failureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

// Release gives back a half-open slot taken by Allow without recording an
// outcome. It is used for calls the caller cancelled.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// recordOutcome writes a result into the ring buffer. Must be called with
// b.mu held.
func (b *Breaker) recordOutcome(failed bool) {
	if b.count == len(b.window) {
		if b.window[b.head] {
			b.failures--
		}
	} else {
		b.count++
	}

	b.window[b.head] = failed
	if failed {
		b.failures++
	}
	b.head = (b.head + 1) % len(b.window)
}

func (b *Breaker) failureRate() float64 {
	if b.count == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.count)
}

// transitionTo changes state, emitting metrics and a log line. Must be
// called with b.mu held.
func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}

	from := b.state
	b.state = next

	b.metrics.CircuitBreakerTransitions.WithLabelValues(b.target, from.String(), next.String()).Inc()
	b.metrics.CircuitBreakerState.WithLabelValues(b.target).Set(float64(next))

	b.logger.Info("circuit breaker state change",
		"target_service", b.target,
		"from", from.String(),
		"to", next.String(),
	)

	b.halfOpenInFlight = 0
	b.halfOpenSuccess = 0
	switch next {
	case StateClosed:
		b.head = 0
		b.count = 0
		b.failures = 0
	case StateOpen:
		b.openedAt = b.now()
	}
}
