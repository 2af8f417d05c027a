package journal

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type inMemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry
	hashes  map[string]struct{}
}

// NewInMemory creates a concurrency-safe in-memory journal.
func NewInMemory() Journal {
	return &inMemoryJournal{hashes: make(map[string]struct{})}
}

func (j *inMemoryJournal) Append(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if e.TxHash != "" {
		if _, exists := j.hashes[e.TxHash]; exists {
			return ErrDuplicateTransaction
		}
		j.hashes[e.TxHash] = struct{}{}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *inMemoryJournal) ListByUser(_ context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range j.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
