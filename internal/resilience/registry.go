package resilience

import (
	"sync"
	"time"
)

// Registry holds one Breaker per external dependency, created lazily with
// shared settings.
type Registry struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	window      time.Duration
	cooldown    time.Duration
}

// NewRegistry creates a Registry whose breakers open after maxFailures
// failures within window and cool down for cooldown.
func NewRegistry(maxFailures int, window, cooldown time.Duration) *Registry {
	return &Registry{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		window:      window,
		cooldown:    cooldown,
	}
}

// For returns the breaker for the named dependency, creating it on first use.
func (r *Registry) For(dependency string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[dependency]
	if !ok {
		b = NewBreaker(r.maxFailures, r.window, r.cooldown)
		r.breakers[dependency] = b
	}
	return b
}

// Snapshot returns the health of every known dependency.
func (r *Registry) Snapshot() []Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Health, 0, len(r.breakers))
	for name, b := range r.breakers {
		out = append(out, b.Snapshot(name))
	}
	return out
}
