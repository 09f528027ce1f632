package service

import (
	"fmt"
	"sync"

	"github.com/scribo-app/scribo/internal/core"
)

// ModelRegistry is the ordered set of configured models plus their
// availability flags. Order is configuration order and drives fallback
// and fan-out candidate selection.
type ModelRegistry struct {
	mu        sync.RWMutex
	order     []string
	models    map[string]core.ModelConfig
	available map[string]bool
}

// NewModelRegistry creates a registry with every model available.
func NewModelRegistry(models []core.ModelConfig) (*ModelRegistry, error) {
	r := &ModelRegistry{
		order:     make([]string, 0, len(models)),
		models:    make(map[string]core.ModelConfig, len(models)),
		available: make(map[string]bool, len(models)),
	}
	for _, m := range models {
		if m.ID == "" {
			return nil, core.ErrValidation(core.CodeInvalidConfig, "model id required")
		}
		if _, dup := r.models[m.ID]; dup {
			return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("duplicate model id %q", m.ID))
		}
		r.order = append(r.order, m.ID)
		r.models[m.ID] = m
		r.available[m.ID] = true
	}
	return r, nil
}

// Get returns a model config by id.
func (r *ModelRegistry) Get(id string) (core.ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// IDs returns every model id in registry order.
func (r *ModelRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered models.
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// IsAvailable reports whether a model currently accepts calls.
func (r *ModelRegistry) IsAvailable(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available[id]
}

// SetAvailable flips the availability flag. Unknown ids are ignored.
func (r *ModelRegistry) SetAvailable(id string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; ok {
		r.available[id] = available
	}
}

// Available returns the available models in registry order, optionally
// excluding models with the given usage tag.
func (r *ModelRegistry) Available(excludeUsage string) []core.ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ModelConfig, 0, len(r.order))
	for _, id := range r.order {
		m := r.models[id]
		if !r.available[id] || (excludeUsage != "" && m.Usage == excludeUsage) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Health returns a snapshot of every model and its availability.
func (r *ModelRegistry) Health() []core.ModelHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ModelHealth, 0, len(r.order))
	for _, id := range r.order {
		m := r.models[id]
		out = append(out, core.ModelHealth{
			ID:        id,
			Name:      m.DisplayName(),
			Model:     m.Model,
			Available: r.available[id],
		})
	}
	return out
}
