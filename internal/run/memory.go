package run

import (
	"context"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryRepository creates a new in-memory run repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runs: make(map[string]*Run),
	}
}

// Save stores a clone to avoid external mutations.
func (r *MemoryRepository) Save(_ context.Context, run *Run) error {
	snapshot := run.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[snapshot.ID] = snapshot
	return nil
}

// FindByID returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

// List returns clones of all runs.
func (r *MemoryRepository) List(_ context.Context) ([]*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		result = append(result, run.Clone())
	}
	return result, nil
}
