package merchant

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu        sync.RWMutex
	merchants []Merchant
}

// NewMemoryRepository builds an in-memory catalog seeded with merchants.
func NewMemoryRepository(seed ...Merchant) Repository {
	r := &memoryRepository{}
	r.merchants = append(r.merchants, seed...)
	return r
}

func (r *memoryRepository) List(_ context.Context) ([]Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Merchant, len(r.merchants))
	copy(out, r.merchants)
	return out, nil
}

func (r *memoryRepository) Create(_ context.Context, m Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.merchants {
		if SameName(existing.Name, m.Name) {
			return ErrDuplicateName
		}
	}
	r.merchants = append(r.merchants, m)
	return nil
}
