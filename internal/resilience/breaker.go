// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit state of one dependency.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Health is a point-in-time snapshot of a dependency's breaker.
type Health struct {
	Dependency string    `json:"dependency"`
	State      State     `json:"state"`
	Failures   int       `json:"failures"`
	Successes  int64     `json:"successes"`
	LastFail   time.Time `json:"last_fail,omitempty"`
}

// Breaker implements a circuit breaker for one external dependency.
// Failures are counted within a rolling window; reaching maxFailures opens
// the circuit for the cooldown, after which exactly one half-open probe is
// allowed through. Probe success closes the circuit, probe failure reopens
// it and restarts the cooldown.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int64
	maxFailures int
	window      time.Duration
	cooldown    time.Duration
	openedAt    time.Time
	lastFail    time.Time
	probing     bool
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures
// failures within window and stays open for cooldown before allowing a
// half-open probe. A zero window means failures never age out.
func NewBreaker(maxFailures int, window, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		window:      window,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn if the circuit permits a call.
// Returns ErrCircuitOpen without invoking fn when the circuit is open or a
// half-open probe is already in flight.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

// Snapshot returns the current health of the breaker.
func (b *Breaker) Snapshot(dependency string) Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Reflect cooldown expiry in the reported state without mutating it;
	// the transition happens on the next call.
	state := b.state
	if state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		state = StateHalfOpen
	}
	return Health{
		Dependency: dependency,
		State:      state,
		Failures:   b.failures,
		Successes:  b.successes,
		LastFail:   b.lastFail,
	}
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		// One probe at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	now := b.now()
	if b.window > 0 && !b.lastFail.IsZero() && now.Sub(b.lastFail) > b.window {
		b.failures = 0
	}
	b.failures++
	b.lastFail = now
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = now
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.successes++
	b.failures = 0
	b.state = StateClosed
}
