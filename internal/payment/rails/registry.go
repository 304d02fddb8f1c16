package rails

import (
	paymentdomain "github.com/smallbiznis/studiobook/internal/payment/domain"
)

// Registry maps a rail kind from the booking request to its implementation.
type Registry struct {
	rails map[string]paymentdomain.Rail
}

func NewRegistry(rails ...paymentdomain.Rail) *Registry {
	m := make(map[string]paymentdomain.Rail, len(rails))
	for _, r := range rails {
		m[r.Kind()] = r
	}
	return &Registry{rails: m}
}

func (r *Registry) Get(kind string) (paymentdomain.Rail, error) {
	rail, ok := r.rails[kind]
	if !ok {
		return nil, paymentdomain.ErrUnknownRail
	}
	return rail, nil
}
