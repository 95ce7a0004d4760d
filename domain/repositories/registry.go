package repositories

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownProvider is returned when no constructor is registered for a name
var ErrUnknownProvider = errors.New("unknown provider")

// Factory constructs a backend on first use
type Factory[T any] func() (T, error)

// Registry maps configuration names to backend constructors and caches the built instances
type Registry[T any] struct {
	mu        sync.Mutex
	factories map[string]Factory[T]
	built     map[string]T
}

// NewRegistry creates an empty registry
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		factories: make(map[string]Factory[T]),
		built:     make(map[string]T),
	}
}

// Register adds or replaces the constructor for name
func (r *Registry[T]) Register(name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	delete(r.built, name)
}

// Get returns the backend for name, constructing it on first use
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.built[name]; ok {
		return b, nil
	}

	var zero T
	f, ok := r.factories[name]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	b, err := f()
	if err != nil {
		return zero, fmt.Errorf("failed to construct %q: %w", name, err)
	}
	r.built[name] = b
	return b, nil
}

// Has reports whether a constructor is registered for name
func (r *Registry[T]) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[name]
	return ok
}

// Names lists the registered names in sorted order
func (r *Registry[T]) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
