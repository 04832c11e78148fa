// Package storage provides blob storage for per-line audio clips.
// It defines the Storage interface (port) and implementations for local disk
// and S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// ContentTypeWAV is the content type of every uploaded clip.
const ContentTypeWAV = "audio/wav"

// ErrInvalidKey is returned for keys that are empty, absolute or escape the
// storage root.
var ErrInvalidKey = errors.New("storage: invalid key")

// Storage persists clips and returns a URL the client can fetch them from.
type Storage interface {
	// Upload stores data under key and returns its public URL.
	Upload(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// SegmentKey is the object key of one line's clip.
func SegmentKey(userID, scriptID string, lineIndex int) string {
	return fmt.Sprintf("%s/%s/line-%04d.wav", url.PathEscape(userID), url.PathEscape(scriptID), lineIndex)
}

// validateKey rejects keys that would resolve outside the storage root.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// joinURL appends key to base with exactly one separator.
func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
