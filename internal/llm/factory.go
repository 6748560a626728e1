package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nulzo/query-router/internal/config"
)

type Factory func(cfg config.ProviderConfig) (Provider, error)

// FactoryOption tweaks how a provider type is treated at bootstrap.
type FactoryOption func(*registration)

// WithoutCredentials marks a provider type as usable with no api_key or host.
func WithoutCredentials() FactoryOption {
	return func(r *registration) { r.credentialFree = true }
}

type registration struct {
	factory        Factory
	credentialFree bool
}

var (
	mu        sync.RWMutex
	factories = make(map[string]registration)
)

func Register(providerType string, f Factory, opts ...FactoryOption) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[providerType]; exists {
		panic(fmt.Sprintf("provider factory %s already registered", providerType))
	}
	reg := registration{factory: f}
	for _, opt := range opts {
		opt(&reg)
	}
	factories[providerType] = reg
}

func Get(providerType string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	reg, ok := factories[providerType]
	if !ok {
		return nil, fmt.Errorf("provider factory not found for type: %s", providerType)
	}
	return reg.factory, nil
}

// RequiresCredentials reports whether instances of providerType are only
// available once an api_key or host is configured.
func RequiresCredentials(providerType string) bool {
	mu.RLock()
	defer mu.RUnlock()
	reg, ok := factories[providerType]
	return !ok || !reg.credentialFree
}

// Types returns the registered provider types in sorted order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
