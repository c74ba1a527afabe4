package model

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/cexll/agentcore/pkg/core/failure"
)

// Registry maps backend names to implementations.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: map[string]Backend{}}
}

// Register adds or replaces a backend under its Name.
func (r *Registry) Register(b Backend) error {
	if b == nil {
		return errors.New("model: backend is nil")
	}
	name := strings.TrimSpace(b.Name())
	if name == "" {
		return errors.New("model: backend name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
	return nil
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[strings.TrimSpace(name)]
	if !ok {
		return nil, failure.New(failure.KindNotFound, "backend %q is not configured", name)
	}
	return b, nil
}

// Names lists registered backends in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
