package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultLocalBaseURL is the URL prefix served by the HTTP server for
// local clips.
const DefaultLocalBaseURL = "/audio"

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage using local disk. Clips are written under
// dir and addressed as baseURL/key.
type LocalStorage struct {
	dir     string
	baseURL string
}

// NewLocalStorage creates a new LocalStorage instance.
// If dir is empty, a directory under os.TempDir() is used.
// If baseURL is empty, DefaultLocalBaseURL is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "scenepartner", "audio")
	}
	if baseURL == "" {
		baseURL = DefaultLocalBaseURL
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &LocalStorage{dir: dir, baseURL: baseURL}, nil
}

// Dir returns the root directory clips are written to.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Upload writes data to dir/key through a temporary file so readers never
// observe a partial clip.
func (s *LocalStorage) Upload(ctx context.Context, key string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := validateKey(key); err != nil {
		return "", err
	}

	dest := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return "", fmt.Errorf("create clip directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".upload_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	tmpName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write clip: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close clip: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("move clip into place: %w", err)
	}

	return joinURL(s.baseURL, key), nil
}
