package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Builder constructs a Client for a credential. Registered per vendor.
type Builder func(apiKey string) (Client, error)

// Registry maps provider names to adapter constructors. The vendor packages
// register themselves at init time via Register.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds or replaces a builder for name.
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// New builds a client for the named provider with the supplied credential.
func (r *Registry) New(name, apiKey string) (Client, error) {
	r.mu.RLock()
	b, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider: unsupported provider %q", name)
	}
	return b(apiKey)
}

// Supported returns the registered provider names, sorted.
func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
