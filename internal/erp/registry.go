package erp

import (
	"strings"

	"github.com/smallbiznis/collectra/internal/config"
)

// Factory builds a provider from config.
type Factory interface {
	Provider() string
	New(cfg config.ERPConfig) (Provider, error)
}

type Registry struct {
	factories map[string]Factory
}

func NewRegistry(factories ...Factory) *Registry {
	registry := &Registry{factories: map[string]Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) New(cfg config.ERPConfig) (Provider, error) {
	if r == nil {
		return nil, ErrProviderNotFound
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return factory.New(cfg)
}
