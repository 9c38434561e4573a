// Package breaker implements a three-state circuit breaker guarding calls to
// volatile dependencies such as the cache and the database.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without executing it.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's position in its lifecycle.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config controls breaker behavior.
type Config struct {
	Clock            func() time.Time
	Logger           *slog.Logger
	FailureThreshold int
	Timeout          time.Duration
}

// DefaultConfig trips after 5 consecutive failures and retries after 60s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker. The open state expires
// lazily: the first call after the timeout becomes the half-open trial, and
// concurrent callers fail fast until that trial resolves. All state lives
// behind one mutex; guarded functions run outside it.
type Breaker struct {
	clock       func() time.Time
	logger      *slog.Logger
	lastFailure time.Time
	name        string
	state       State
	failures    int
	threshold   int
	timeout     time.Duration
	trial       bool
	mu          sync.Mutex
}

// New creates a breaker with DefaultConfig.
func New(name string) *Breaker {
	return NewWithConfig(name, DefaultConfig())
}

// NewWithConfig creates a breaker with explicit configuration.
func NewWithConfig(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:      name,
		state:     StateClosed,
		threshold: cfg.FailureThreshold,
		timeout:   cfg.Timeout,
		clock:     clock,
		logger:    logger,
	}
}

// Call runs fn under the breaker's protection. When the breaker is open and
// the timeout has not elapsed, fn is not invoked and ErrOpen is returned;
// otherwise fn's error feeds the failure count and state transitions.
func (b *Breaker) Call(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()
	b.afterCall(err)
	return err
}

// RecordFailure injects a failure observed outside the Call wrapper.
func (b *Breaker) RecordFailure() {
	b.afterCall(errors.New("recorded failure"))
}

// Reset forces the breaker closed and clears its history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.logger.Info("circuit breaker reset", "breaker", b.name, "from", b.state)
	}
	b.state = StateClosed
	b.failures = 0
	b.trial = false
	b.lastFailure = time.Time{}
}

// State returns the current state, applying lazy open-to-half-open expiry so
// observers see the same state a call would.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.timeoutElapsed() {
		return StateHalfOpen
	}
	return b.state
}

// FailureCount returns the consecutive-failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// LastFailureTime returns when the most recent failure was recorded; the
// zero time means no failure has occurred since the last reset.
func (b *Breaker) LastFailureTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}

// beforeCall decides whether the caller may proceed, performing the lazy
// open to half-open transition.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if !b.timeoutElapsed() {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.trial = true
		b.logger.Info("circuit breaker trial permitted", "breaker", b.name)
		return nil
	case StateHalfOpen:
		if b.trial {
			// A trial is already in flight; only one probe at a time.
			return ErrOpen
		}
		b.trial = true
		return nil
	}
	return nil
}

// afterCall folds a call outcome into the state machine.
func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = b.clock()

		switch b.state {
		case StateHalfOpen:
			b.trial = false
			b.state = StateOpen
			b.logger.Warn("circuit breaker trial failed, reopening", "breaker", b.name, "failures", b.failures)
		case StateClosed:
			if b.failures >= b.threshold {
				b.state = StateOpen
				b.logger.Warn("circuit breaker opened",
					"breaker", b.name,
					"failures", b.failures,
					"threshold", b.threshold)
			}
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.trial = false
		b.state = StateClosed
		b.failures = 0
		b.logger.Info("circuit breaker closed after successful trial", "breaker", b.name)
	case StateClosed:
		b.failures = 0
	}
}

// timeoutElapsed must be called with the mutex held.
func (b *Breaker) timeoutElapsed() bool {
	return !b.lastFailure.IsZero() && b.clock().Sub(b.lastFailure) >= b.timeout
}
