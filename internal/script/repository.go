package script

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no line collection exists for a key.
var ErrNotFound = errors.New("script: not found")

// Repository persists whole line collections keyed by user and script.
type Repository interface {
	// Save stores the lines, replacing any previous collection for the key.
	Save(ctx context.Context, key Key, lines []Line) error

	// Find returns the stored lines for the key.
	// Returns ErrNotFound if nothing is stored.
	Find(ctx context.Context, key Key) ([]Line, error)
}

// UpdateFunc receives the stored lines, nil when nothing is stored, and
// returns the lines to save in their place.
type UpdateFunc func(lines []Line) ([]Line, error)

// Updater is implemented by repositories that can read and replace a
// collection without another writer slipping in between.
type Updater interface {
	Update(ctx context.Context, key Key, fn UpdateFunc) error
}

// Evicter is implemented by caches that can drop a single entry.
type Evicter interface {
	Delete(key Key) error
}

// Update applies fn to the lines stored under key and saves the result.
// It uses r's own Update when r is an Updater, otherwise a Find then Save.
func Update(ctx context.Context, r Repository, key Key, fn UpdateFunc) error {
	if u, ok := r.(Updater); ok {
		return u.Update(ctx, key, fn)
	}
	lines, err := r.Find(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	next, err := fn(lines)
	if err != nil {
		return err
	}
	return r.Save(ctx, key, next)
}
