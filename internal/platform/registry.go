package platform

import (
	"fmt"
	"sort"

	"github.com/aura-learning/backend/internal/models"
)

// Registry holds the adapters that are configured for this deployment.
type Registry struct {
	adapters map[models.Platform]Adapter
}

// NewRegistry indexes adapters by the platform they serve. Nil adapters are skipped.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Platform()] = a
		}
	}
	return r
}

// Get returns the adapter for p.
func (r *Registry) Get(p models.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("platform %q is not configured", p)
	}
	return a, nil
}

// Platforms lists the configured platforms in name order.
func (r *Registry) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
