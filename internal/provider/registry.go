package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh Engine instance for one review run. Instances are
// cheap; a fresh one per run keeps engines free of cross-run state.
type Factory func() Engine

// UnknownProviderError is returned when a trigger names an engine that was
// never registered.
type UnknownProviderError struct {
	Name      string
	Available []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown review engine %q, available: %v", e.Name, e.Available)
}

// Registry maps engine names to factories. Registration happens once at
// process start; resolution happens per review run and needs no locking in
// practice, but the mutex keeps the type safe for tests that build
// registries concurrently.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolve returns a new Engine for name, or an *UnknownProviderError.
func (r *Registry) Resolve(name string) (Engine, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownProviderError{Name: name, Available: r.Names()}
	}
	return f(), nil
}

// Names lists the registered engine names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
