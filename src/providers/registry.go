package providers

import (
	"fmt"
	"sort"
	"sync"

	"quote-aggregator/src/interfaces"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
)

// ProviderRegistry holds every configured provider adapter and its enabled flag.
type ProviderRegistry struct {
	providers map[string]*registeredProvider
	Logger    *logger.Logger
	mu        sync.RWMutex
}

type registeredProvider struct {
	adapter interfaces.IProviderAdapter
	enabled bool
}

// -----------------------------------------------------------------------------

func NewProviderRegistry(log *logger.Logger) *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]*registeredProvider),
		Logger:    log,
	}
}

// -----------------------------------------------------------------------------

// AddProvider registers an adapter. Requests created afterwards may use it.
func (r *ProviderRegistry) AddProvider(adapter interfaces.IProviderAdapter, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := adapter.ID()
	if id == "" {
		return fmt.Errorf("provider id cannot be empty")
	}
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider %s already exists", id)
	}

	r.providers[id] = &registeredProvider{adapter: adapter, enabled: enabled}
	r.Logger.Info("Added provider: %s (type=%s, enabled=%v)", id, adapter.Type(), enabled)
	return nil
}

// -----------------------------------------------------------------------------

// RemoveProvider unregisters a provider. Running tasks keep their adapter.
func (r *ProviderRegistry) RemoveProvider(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[id]; !exists {
		return fmt.Errorf("provider %s not found", id)
	}

	delete(r.providers, id)
	r.Logger.Info("Removed provider: %s", id)
	return nil
}

// -----------------------------------------------------------------------------

// SetEnabled toggles whether new requests fan out to the provider.
func (r *ProviderRegistry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.providers[id]
	if !exists {
		return fmt.Errorf("provider %s not found", id)
	}
	p.enabled = enabled
	r.Logger.Info("Provider %s enabled=%v", id, enabled)
	return nil
}

// -----------------------------------------------------------------------------

// GetProvider retrieves a provider by id
func (r *ProviderRegistry) GetProvider(id string) (interfaces.IProviderAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.providers[id]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", id)
	}
	return p.adapter, nil
}

// -----------------------------------------------------------------------------

// Statuses lists all providers sorted by id.
func (r *ProviderRegistry) Statuses() []models.MProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]models.MProviderStatus, 0, len(r.providers))
	for id, p := range r.providers {
		list = append(list, models.MProviderStatus{
			ID:       id,
			Type:     p.adapter.Type(),
			Enabled:  p.enabled,
			Products: p.adapter.Products(),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// -----------------------------------------------------------------------------

// ProvidersFor returns the enabled adapters that quote productType, sorted by id.
func (r *ProviderRegistry) ProvidersFor(productType string) []interfaces.IProviderAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []interfaces.IProviderAdapter
	for _, p := range r.providers {
		if !p.enabled {
			continue
		}
		if contains(p.adapter.Products(), productType) {
			list = append(list, p.adapter)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// -----------------------------------------------------------------------------

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
