package script

import (
	"context"
	"errors"
)

// Compile-time checks that Tiered implements Repository and Updater.
var (
	_ Repository = (*Tiered)(nil)
	_ Updater    = (*Tiered)(nil)
)

// Tiered reads through a cache in front of a store.
type Tiered struct {
	Cache Repository
	Store Repository
}

// Find returns the cached lines when present, otherwise the stored lines.
// A store hit is written back to the cache; a failed write-back is ignored.
func (t *Tiered) Find(ctx context.Context, key Key) ([]Line, error) {
	if t.Cache != nil {
		if lines, err := t.Cache.Find(ctx, key); err == nil {
			return lines, nil
		}
	}
	lines, err := t.Store.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	if t.Cache != nil {
		_ = t.Cache.Save(ctx, key, lines)
	}
	return lines, nil
}

// Save writes the store first and then the cache, returning both errors.
func (t *Tiered) Save(ctx context.Context, key Key, lines []Line) error {
	var errs []error
	if err := t.Store.Save(ctx, key, lines); err != nil {
		errs = append(errs, err)
	}
	if err := t.refresh(ctx, key, lines); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Update applies fn against the store and caches the result.
func (t *Tiered) Update(ctx context.Context, key Key, fn UpdateFunc) error {
	var saved []Line
	err := Update(ctx, t.Store, key, func(lines []Line) ([]Line, error) {
		next, err := fn(lines)
		saved = next
		return next, err
	})
	if err != nil {
		return err
	}
	return t.refresh(ctx, key, saved)
}

// refresh writes lines to the cache. When that fails the cached entry is
// evicted so reads fall through to the store instead of serving old lines.
func (t *Tiered) refresh(ctx context.Context, key Key, lines []Line) error {
	if t.Cache == nil {
		return nil
	}
	err := t.Cache.Save(ctx, key, lines)
	if err == nil {
		return nil
	}
	if ev, ok := t.Cache.(Evicter); ok {
		if derr := ev.Delete(key); derr != nil {
			return errors.Join(err, derr)
		}
	}
	return err
}
