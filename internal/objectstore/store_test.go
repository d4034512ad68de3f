package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type recordingStore struct {
	key         string
	data        []byte
	contentType string
}

func (r *recordingStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	r.key = key
	r.data = data
	r.contentType = contentType
	return nil
}

func TestWheelKey(t *testing.T) {
	key := WheelKey("numpy", "1.26.4", "numpy-1.26.4-cp311-cp311-manylinux2014_s390x.whl")
	if key != "numpy/1.26.4/numpy-1.26.4-cp311-cp311-manylinux2014_s390x.whl" {
		t.Fatalf("key = %q", key)
	}
}

func TestPublishWheel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "numpy-1.26.4-cp311-cp311-manylinux2014_s390x.whl")
	if err := os.WriteFile(path, []byte("wheel bytes"), 0o644); err != nil {
		t.Fatalf("write wheel: %v", err)
	}

	store := &recordingStore{}
	if err := PublishWheel(context.Background(), store, "numpy", "1.26.4", path); err != nil {
		t.Fatalf("PublishWheel: %v", err)
	}
	if store.key != "numpy/1.26.4/numpy-1.26.4-cp311-cp311-manylinux2014_s390x.whl" {
		t.Fatalf("key = %q", store.key)
	}
	if string(store.data) != "wheel bytes" {
		t.Fatalf("data = %q", store.data)
	}
	if store.contentType != "application/octet-stream" {
		t.Fatalf("content type = %q", store.contentType)
	}
}

func TestPublishWheelMissingFile(t *testing.T) {
	if err := PublishWheel(context.Background(), NullStore{}, "numpy", "1.26.4", "/nope/absent.whl"); err == nil {
		t.Fatalf("expected error for missing wheel file")
	}
}
