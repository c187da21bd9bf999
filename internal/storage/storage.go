// Package storage persists uploaded and derived files under stable keys.
//
// Keys are slash-separated relative paths such as "uploads/<uuid>.pdf". The
// local backend stores them under a configured root directory; the interface
// keeps the pipeline independent of where the bytes live.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"partbank/internal/services"
)

// Service is the object store consumed by the upload pipeline.
type Service interface {
	// Upload writes the reader's content under key and returns the byte count.
	Upload(ctx context.Context, key string, r io.Reader) (int64, error)
	// Open returns a reader for the stored object. Missing keys report
	// services.ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the stored object. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
	// URL returns a browser-reachable address for the stored object.
	URL(key string) string
}

// Digest computes the hex-encoded SHA-256 of the reader's content. It is the
// content fingerprint used for duplicate detection within a batch.
func Digest(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", fmt.Errorf("digest content: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ValidateKey rejects keys that would escape the storage root.
func ValidateKey(key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return services.Wrap(services.ErrValidation, "storage", "key", "storage key is empty", nil)
	}
	if strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, "\\") {
		return services.Wrap(services.ErrValidation, "storage", "key", fmt.Sprintf("storage key %q must be a relative slash path", key), nil)
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == "" || part == "." || part == ".." {
			return services.Wrap(services.ErrValidation, "storage", "key", fmt.Sprintf("storage key %q contains an invalid path element", key), nil)
		}
	}
	return nil
}
