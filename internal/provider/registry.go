package provider

import (
	"fmt"
	"sync"

	"github.com/chatgraph/chatgraph/internal/config"
)

// Factory builds a provider instance from one configuration entry.
type Factory func(cfg config.ProviderConfig) (Provider, error)

// Registry maps provider types to factories and configured names to
// instances.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// RegisterFactory registers a factory for a provider type (e.g. "openai").
func (r *Registry) RegisterFactory(providerType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = f
}

// CreateProviders instantiates all configured backends. Each instance is
// stored under its configured name.
func (r *Registry) CreateProviders(cfgs []config.ProviderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range cfgs {
		f, ok := r.factories[cfg.Type]
		if !ok {
			return fmt.Errorf("unknown provider type %q for provider %q", cfg.Type, cfg.Name)
		}
		p, err := f(cfg)
		if err != nil {
			return fmt.Errorf("create provider %s: %w", cfg.Name, err)
		}
		r.providers[cfg.Name] = p
	}
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// Add registers an already-built provider instance under its name.
// Used by tests and by wrappers.
func (r *Registry) Add(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Names returns the configured provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
