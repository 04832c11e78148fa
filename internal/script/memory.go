package script

import (
	"context"
	"sync"
)

// Compile-time checks that MemoryRepository implements Repository and Updater.
var (
	_ Repository = (*MemoryRepository)(nil)
	_ Updater    = (*MemoryRepository)(nil)
)

// MemoryRepository is an in-memory implementation of Repository.
// Lines are cloned on the way in and out so callers never share slices
// with the repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	scripts map[Key][]Line
}

// NewMemoryRepository creates a new in-memory script repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		scripts: make(map[Key][]Line),
	}
}

// Save stores a copy of the lines.
func (r *MemoryRepository) Save(ctx context.Context, key Key, lines []Line) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[key] = Clone(lines)
	return nil
}

// Find returns a copy of the stored lines.
func (r *MemoryRepository) Find(_ context.Context, key Key) ([]Line, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lines, ok := r.scripts[key]
	if !ok {
		return nil, ErrNotFound
	}
	return Clone(lines), nil
}

// Update applies fn under the write lock.
func (r *MemoryRepository) Update(ctx context.Context, key Key, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var current []Line
	if lines, ok := r.scripts[key]; ok {
		current = Clone(lines)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	r.scripts[key] = Clone(next)
	return nil
}
