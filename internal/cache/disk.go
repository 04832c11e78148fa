// Package cache provides a local, compressed copy of each script's lines so
// reads survive restarts without hitting the primary store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"github.com/maauso/scenepartner-api/internal/script"
)

// Compile-time checks for the script persistence interfaces.
var (
	_ script.Repository = (*DiskCache)(nil)
	_ script.Updater    = (*DiskCache)(nil)
	_ script.Evicter    = (*DiskCache)(nil)
)

// entry is the on-disk document. Key is stored so hash collisions are detected.
type entry struct {
	UserID   string        `json:"userId"`
	ScriptID string        `json:"scriptId"`
	Lines    []script.Line `json:"lines"`
}

// DiskCache stores one zstd-compressed JSON file per script.
type DiskCache struct {
	basePath string
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	logger   *slog.Logger

	mu sync.Mutex
}

// NewDiskCache creates the cache directory and codecs.
func NewDiskCache(basePath string, logger *slog.Logger) (*DiskCache, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), "scenepartner", "cache")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("cache: create directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("cache: create zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("cache: create zstd decoder: %w", err)
	}

	return &DiskCache{
		basePath: basePath,
		encoder:  enc,
		decoder:  dec,
		logger:   logger,
	}, nil
}

// Save replaces the cached lines for key.
func (dc *DiskCache) Save(ctx context.Context, key script.Key, lines []script.Line) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.write(key, lines)
}

// Find returns the cached lines for key, or script.ErrNotFound.
// Unreadable or corrupt files are removed and reported as misses.
func (dc *DiskCache) Find(ctx context.Context, key script.Key) ([]script.Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.read(key)
}

// Update applies fn to the cached lines, nil on a miss, and caches the
// result. Concurrent writers to the same cache wait for fn to return.
func (dc *DiskCache) Update(ctx context.Context, key script.Key, fn script.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	current, err := dc.read(key)
	if err != nil && !errors.Is(err, script.ErrNotFound) {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return dc.write(key, next)
}

// write must be called with the lock held.
func (dc *DiskCache) write(key script.Key, lines []script.Line) error {
	raw, err := json.Marshal(entry{UserID: key.UserID, ScriptID: key.ScriptID, Lines: lines})
	if err != nil {
		return fmt.Errorf("cache: marshal lines: %w", err)
	}

	compressed := dc.encoder.EncodeAll(raw, nil)
	if err := writeFile(dc.filePath(key), compressed); err != nil {
		return fmt.Errorf("cache: write %s: %w", key, err)
	}

	dc.logger.Debug("cached lines",
		"key", key.String(),
		"lines", len(lines),
		"raw", humanize.Bytes(uint64(len(raw))),
		"stored", humanize.Bytes(uint64(len(compressed))),
	)
	return nil
}

// read must be called with the lock held.
func (dc *DiskCache) read(key script.Key) ([]script.Line, error) {
	path := dc.filePath(key)
	data, err := os.ReadFile(path) // #nosec G304 - path is derived from a hash
	if errors.Is(err, os.ErrNotExist) {
		return nil, script.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read %s: %w", key, err)
	}

	raw, err := dc.decoder.DecodeAll(data, nil)
	if err != nil {
		dc.evict(path, key, err)
		return nil, script.ErrNotFound
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		dc.evict(path, key, err)
		return nil, script.ErrNotFound
	}

	if e.UserID != key.UserID || e.ScriptID != key.ScriptID {
		return nil, script.ErrNotFound
	}

	return e.Lines, nil
}

// Delete removes the cached lines for key. Missing entries are not an error.
func (dc *DiskCache) Delete(key script.Key) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if err := os.Remove(dc.filePath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// Close releases the codecs.
func (dc *DiskCache) Close() error {
	dc.decoder.Close()
	return dc.encoder.Close()
}

func (dc *DiskCache) evict(path string, key script.Key, cause error) {
	dc.logger.Warn("discarding corrupt cache entry", "key", key.String(), "error", cause)
	_ = os.Remove(path)
}

func (dc *DiskCache) filePath(key script.Key) string {
	hash := sha256.Sum256([]byte(key.String()))
	return filepath.Join(dc.basePath, hex.EncodeToString(hash[:16])+".zst")
}

// writeFile writes to a temp file first, then renames over path.
func writeFile(path string, data []byte) error {
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		_ = os.Remove(tempPath)
		return err
	}

	return os.Rename(tempPath, path)
}
