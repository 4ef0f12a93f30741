// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/dialect"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/projection"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/worker"
)

// Registry holds the backends available for projection. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// RegistryFromConfig builds a registry from configured backend entries.
func RegistryFromConfig(cfg *config.AppConfig) (*Registry, error) {
	timing := worker.Timing{
		HelloTimeout:      cfg.Worker.HelloTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		StallWindow:       cfg.Worker.StallWindow,
		CancelGrace:       cfg.Worker.CancelGrace,
	}

	registry := NewRegistry()
	for _, bc := range cfg.Backends {
		var backend Backend
		switch bc.Kind {
		case "mock":
			d, ok := dialect.Parse(bc.Dialect)
			if !ok {
				return nil, fmt.Errorf("backend %s: unknown dialect %q", bc.ID, bc.Dialect)
			}
			backend = NewMockBackend(bc.ID, d, bc.Priority)
		case "worker":
			wb, err := NewWorkerBackend(bc, timing)
			if err != nil {
				return nil, err
			}
			backend = wb
		default:
			return nil, fmt.Errorf("backend %s: unknown kind %q", bc.ID, bc.Kind)
		}
		if err := registry.Register(backend); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register adds a backend. Duplicate ids are rejected.
func (r *Registry) Register(b Backend) error {
	id := b.Identity().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[id]; exists {
		return fmt.Errorf("backend %s is already registered", id)
	}
	r.backends[id] = b
	return nil
}

// Get returns the backend registered under id.
func (r *Registry) Get(id string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// Names returns the registered backend ids, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.backends)
	sort.Strings(names)
	return names
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

// Matrix builds a projection matrix over the current registry contents.
func (r *Registry) Matrix() *projection.Matrix {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := projection.New()
	for id, b := range r.backends {
		m.RegisterBackend(id, b.Capabilities(), b.Dialect(), b.Priority())
	}
	return m
}
