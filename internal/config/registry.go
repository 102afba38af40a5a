package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/auricle-dev/auricle/internal/capture"
	"github.com/auricle-dev/auricle/pkg/provider/wake"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory
// has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions for the two
// pluggable surfaces of the daemon: wake-word scoring and audio capture.
// Factories receive the full config so they can read whatever sections
// they need; dependencies beyond config (a transcriber for the textmatch
// backend, say) are closed over at registration time. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	wake    map[string]func(*Config) (wake.Model, error)
	capture map[string]func(*Config) (capture.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		wake:    make(map[string]func(*Config) (wake.Model, error)),
		capture: make(map[string]func(*Config) (capture.Source, error)),
	}
}

// RegisterWake registers a wake-model factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterWake(name string, factory func(*Config) (wake.Model, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wake[name] = factory
}

// RegisterCapture registers a capture-source factory under name.
func (r *Registry) RegisterCapture(name string, factory func(*Config) (capture.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// CreateWake instantiates a wake model using the factory registered under
// cfg.Wake.Backend. Returns [ErrBackendNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateWake(cfg *Config) (wake.Model, error) {
	name := string(cfg.Wake.Backend)
	r.mu.RLock()
	factory, ok := r.wake[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: wake/%q", ErrBackendNotRegistered, name)
	}
	return factory(cfg)
}

// CreateCapture instantiates a capture source using the factory registered
// under cfg.Capture.Source.
func (r *Registry) CreateCapture(cfg *Config) (capture.Source, error) {
	name := string(cfg.Capture.Source)
	r.mu.RLock()
	factory, ok := r.capture[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrBackendNotRegistered, name)
	}
	return factory(cfg)
}
