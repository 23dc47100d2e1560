package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lingolive/lingolive/internal/textgen"
	"github.com/lingolive/lingolive/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	realtime map[string]func(ProviderEntry) (live.Provider, error)
	text     map[string]func(ProviderEntry) (textgen.Generator, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		realtime: make(map[string]func(ProviderEntry) (live.Provider, error)),
		text:     make(map[string]func(ProviderEntry) (textgen.Generator, error)),
	}
}

// RegisterRealtime registers a realtime conversation provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRealtime(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtime[name] = factory
}

// RegisterText registers a text generation provider factory under name.
func (r *Registry) RegisterText(name string, factory func(ProviderEntry) (textgen.Generator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text[name] = factory
}

// CreateRealtime instantiates a realtime provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateRealtime(entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.realtime[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: realtime/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateText instantiates a text generator using the factory registered under entry.Name.
func (r *Registry) CreateText(entry ProviderEntry) (textgen.Generator, error) {
	r.mu.RLock()
	factory, ok := r.text[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: text/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
