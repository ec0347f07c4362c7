// Package adapters holds the provider adapter registry and one subpackage per
// integrated payment provider.
package adapters

import (
	"sort"
	"strings"
	"sync"

	"github.com/payloop/payloop/internal/gateway/domain"
)

// Registry resolves provider identifiers to adapter factories. New providers
// register at construction or later via Register; existing call sites never
// change.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range factories {
		registry.Register(factory)
	}
	return registry
}

// Register adds or replaces a factory. Nil factories and empty provider ids
// are ignored.
func (r *Registry) Register(factory domain.AdapterFactory) {
	if r == nil || factory == nil {
		return
	}
	provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
	if provider == "" {
		return
	}
	r.mu.Lock()
	r.factories[provider] = factory
	r.mu.Unlock()
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	r.mu.RLock()
	_, ok := r.factories[provider]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for provider := range r.factories {
		out = append(out, provider)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	r.mu.RLock()
	factory, ok := r.factories[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	cfg.Provider = provider
	return factory.NewAdapter(cfg)
}
