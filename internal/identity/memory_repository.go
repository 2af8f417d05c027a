package identity

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRepository builds an in-memory credential store.
func NewMemoryRepository() Repository {
	return &memoryRepository{records: make(map[string]Record)}
}

func (r *memoryRepository) Create(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.UserID]; exists {
		return alreadyEnrolled(rec.UserID)
	}
	rec.Helper = append([]byte(nil), rec.Helper...)
	rec.UpdatedAt = rec.CreatedAt
	r.records[rec.UserID] = rec
	return nil
}

func (r *memoryRepository) Find(_ context.Context, userID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[userID]
	if !ok {
		return Record{}, notEnrolled(userID)
	}
	rec.Helper = append([]byte(nil), rec.Helper...)
	return rec, nil
}

func (r *memoryRepository) Replace(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.records[rec.UserID]
	if !ok {
		return notEnrolled(rec.UserID)
	}
	rec.Helper = append([]byte(nil), rec.Helper...)
	rec.CreatedAt = prev.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	r.records[rec.UserID] = rec
	return nil
}
