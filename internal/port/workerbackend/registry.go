package workerbackend

import (
	"fmt"
	"sync"

	"github.com/Strob0t/QuantForge/internal/domain/worker"
)

// Registry resolves a worker role to the backend that performs it.
type Registry struct {
	mu       sync.RWMutex
	backends map[worker.Role]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[worker.Role]Backend)}
}

// Register makes a backend available for every role it declares.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range b.Roles() {
		r.backends[role] = b
	}
}

// For returns the backend registered for a role.
func (r *Registry) For(role worker.Role) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[role]
	if !ok {
		return nil, fmt.Errorf("workerbackend: no backend for role %q", role)
	}
	return b, nil
}

// Covered reports whether every role in roles has a backend. Planning is
// rejected up front when a plan names an uncovered role.
func (r *Registry) Covered(roles []worker.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range roles {
		if _, ok := r.backends[role]; !ok {
			return false
		}
	}
	return true
}
