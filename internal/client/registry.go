package client

import (
	"github.com/lazywriting/api/internal/config"
	"github.com/lazywriting/api/internal/model"
)

// ProviderEntry is one row of the roster table
type ProviderEntry struct {
	ID          model.Provider
	DisplayName string
	Enabled     bool
	Client      Generator
}

// Registry maps provider ids to their clients. Built once at startup and
// shared read-only afterwards.
type Registry struct {
	entries map[model.Provider]ProviderEntry
	order   []model.Provider
}

// NewRegistry builds the roster from configuration, in model.Roster order
func NewRegistry(providers map[model.Provider]config.ProviderConfig) *Registry {
	r := &Registry{entries: make(map[model.Provider]ProviderEntry, len(model.Roster))}
	for _, p := range model.Roster {
		cfg, ok := providers[p]
		if !ok {
			continue
		}
		r.Add(ProviderEntry{
			ID:          p,
			DisplayName: cfg.DisplayName,
			Enabled:     cfg.Enabled,
			Client:      NewLLMClient(p, cfg),
		})
	}
	return r
}

// Add registers or replaces an entry
func (r *Registry) Add(e ProviderEntry) {
	if r.entries == nil {
		r.entries = make(map[model.Provider]ProviderEntry)
	}
	if _, exists := r.entries[e.ID]; !exists {
		r.order = append(r.order, e.ID)
	}
	if e.DisplayName == "" {
		e.DisplayName = string(e.ID)
	}
	r.entries[e.ID] = e
}

// Get looks up a provider
func (r *Registry) Get(p model.Provider) (ProviderEntry, bool) {
	e, ok := r.entries[p]
	return e, ok
}

// Enabled returns the providers dispatched by a bulk command
func (r *Registry) Enabled() []model.Provider {
	out := make([]model.Provider, 0, len(r.order))
	for _, p := range r.order {
		if r.entries[p].Enabled {
			out = append(out, p)
		}
	}
	return out
}

// DisplayName falls back to the id for unknown providers
func (r *Registry) DisplayName(p model.Provider) string {
	if e, ok := r.entries[p]; ok {
		return e.DisplayName
	}
	return string(p)
}

// Configured reports whether p is registered with credentials and an endpoint.
// Generators that cannot tell are assumed configured.
func (r *Registry) Configured(p model.Provider) bool {
	e, ok := r.entries[p]
	if !ok {
		return false
	}
	if c, ok := e.Client.(interface{ IsConfigured() bool }); ok {
		return c.IsConfigured()
	}
	return true
}
