package probes

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateProbe is returned when two probes share a key
	ErrDuplicateProbe = errors.New("duplicate probe key")
	// ErrRegistryFrozen is returned when registering after the sampler started
	ErrRegistryFrozen = errors.New("probe registry is frozen")
)

// Registry is the ordered set of probes run every cycle.
// Order only affects display grouping.
type Registry struct {
	mu     sync.RWMutex
	probes []Probe
	frozen bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		probes: make([]Probe, 0),
	}
}

// Register adds a probe to the registry
func (r *Registry) Register(p Probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: %s", ErrRegistryFrozen, p.Key())
	}
	for _, existing := range r.probes {
		if existing.Key() == p.Key() {
			return fmt.Errorf("%w: %s", ErrDuplicateProbe, p.Key())
		}
	}
	r.probes = append(r.probes, p)
	return nil
}

// MustRegister registers probes and panics on error
func (r *Registry) MustRegister(ps ...Probe) {
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Freeze makes the registry immutable
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Probes returns all registered probes in registration order
func (r *Registry) Probes() []Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Probe, len(r.probes))
	copy(out, r.probes)
	return out
}

// Get returns a probe by key, or nil if not found
func (r *Registry) Get(key string) Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.probes {
		if p.Key() == key {
			return p
		}
	}
	return nil
}

// Len returns the number of registered probes
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.probes)
}
