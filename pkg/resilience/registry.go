package resilience

import (
	"sort"
	"sync"
)

// Registry hands out one shared circuit breaker per dependency name,
// creating breakers lazily on first use. All breakers share the registry's
// default configuration.
type Registry struct {
	defaults Config

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry applying defaults to every breaker it
// creates. The Name field of defaults is ignored.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		defaults: defaults,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the named dependency, creating it on first
// use. Concurrent callers always receive the same instance.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Names returns the registered dependency names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns a snapshot of every registered breaker, sorted by name
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		snapshots = append(snapshots, cb.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})
	return snapshots
}
