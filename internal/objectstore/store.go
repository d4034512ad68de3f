// Package objectstore publishes built wheels to an S3-compatible bucket so
// other hosts can fetch them without rebuilding.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store uploads artifacts to an object storage backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// NullStore discards uploads.
type NullStore struct{}

func (NullStore) Put(_ context.Context, _ string, _ []byte, _ string) error { return nil }

// WheelKey is the object key for a built wheel: name/version/filename.
func WheelKey(name, version, filename string) string {
	return fmt.Sprintf("%s/%s/%s", name, version, filename)
}

// PublishWheel uploads a wheel file under its package key.
func PublishWheel(ctx context.Context, store Store, name, version, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read wheel %s: %w", path, err)
	}
	key := WheelKey(name, version, filepath.Base(path))
	if err := store.Put(ctx, key, data, "application/octet-stream"); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
