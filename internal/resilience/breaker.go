// Package resilience provides a circuit breaker for backends that can
// fail for a while and recover, such as a networked state store.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State string

const (
	Closed   State = "closed"    // calls pass through
	Open     State = "open"      // calls are rejected
	HalfOpen State = "half_open" // probing whether the backend recovered
)

// ErrOpen is returned by Do while the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Zero disables the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
}

// DefaultConfig returns the thresholds used for state stores.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         15 * time.Second,
	}
}

// Enabled reports whether the config describes an active breaker.
func (c Config) Enabled() bool {
	return c.FailureThreshold > 0
}

// Stats is a snapshot of breaker counters.
type Stats struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Calls       int64     `json:"calls"`
	Failures    int64     `json:"failures"`
	Rejected    int64     `json:"rejected"`
	LastFailure time.Time `json:"last_failure"`
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	openedAt    time.Time
	lastFailure time.Time

	calls, totalFailures, rejected int64
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg Config) *Breaker {
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now, state: Closed}
}

// Do runs fn unless the circuit is open. Errors for which countable
// returns false pass through without counting as failures; a nil
// countable counts every error.
func (b *Breaker) Do(fn func() error, countable func(error) bool) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil && (countable == nil || countable(err)) {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.rejected++
			return ErrOpen
		}
		b.transition(HalfOpen)
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(Closed)
		}
	case Closed:
		b.failures = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.lastFailure = b.now()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
	}
}

func (b *Breaker) transition(s State) {
	b.state = s
	b.failures = 0
	b.successes = 0
	if s == Open {
		b.openedAt = b.now()
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:        b.name,
		State:       b.state,
		Calls:       b.calls,
		Failures:    b.totalFailures,
		Rejected:    b.rejected,
		LastFailure: b.lastFailure,
	}
}

// Reset closes the circuit and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed)
}
