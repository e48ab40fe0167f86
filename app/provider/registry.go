package provider

import "github.com/vibast-solutions/ms-go-payment-gateway/app/entity"

type Registry struct {
	adapters map[entity.ProviderName]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	items := make(map[entity.ProviderName]Adapter, len(adapters))
	for _, a := range adapters {
		items[a.Name()] = a
	}
	return &Registry{adapters: items}
}

func (r *Registry) Get(name entity.ProviderName) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, ErrProviderNotSupported
	}
	return adapter, nil
}

func (r *Registry) Names() []entity.ProviderName {
	names := make([]entity.ProviderName, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
