package llm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nulzo/query-router/pkg/api"
)

// ErrProviderNotFound is returned when no provider is registered under a name.
var ErrProviderNotFound = errors.New("provider not found")

type entry struct {
	provider  Provider
	available bool
}

// Registry maps provider names to implementations and tracks which of them
// are configured for use. Registration and availability are independent:
// a provider may exist in code without credentials to call it.
// It is thread-safe.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds or replaces the provider under name. A replaced provider
// keeps its availability.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.provider = p
		return
	}
	r.entries[name] = &entry{provider: p}
}

// SetAvailable toggles availability of a registered provider.
func (r *Registry) SetAvailable(name string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	e.available = available
	return nil
}

// IsRegistered reports whether name has an implementation.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// IsAvailable reports whether name is registered and configured.
func (r *Registry) IsAvailable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.available
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return e.provider, nil
}

// List returns every registered provider sorted by name.
func (r *Registry) List() []api.ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]api.ProviderStatus, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, api.ProviderStatus{
			Name:      name,
			Type:      e.provider.Type(),
			Available: e.available,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of available providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.available {
			n++
		}
	}
	return n
}
