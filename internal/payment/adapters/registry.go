package adapters

import (
	"github.com/smallbiznis/creditledger/internal/payment/domain"
)

type Registry struct {
	factories map[domain.Provider]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[domain.Provider]domain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		registry.factories[factory.Provider()] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider domain.Provider) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) NewAdapter(provider domain.Provider, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}
