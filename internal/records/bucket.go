package records

import (
	"context"
	"fmt"
	"sync"

	"github.com/supercopa/totem/supabase/client"
)

// Bucket is an object store for captured and generated photos.
type Bucket interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (StoredImage, error)
	Check(ctx context.Context) error
}

// SupabaseBucket stores photos in a Supabase Storage bucket.
type SupabaseBucket struct {
	bucket *client.BucketClient
}

func NewSupabaseBucket(c *client.Client, name string) *SupabaseBucket {
	return &SupabaseBucket{bucket: c.Storage().From(name)}
}

// Upload never overwrites an existing object.
func (b *SupabaseBucket) Upload(ctx context.Context, path string, data []byte, contentType string) (StoredImage, error) {
	if _, err := b.bucket.Upload(ctx, path, data, contentType, false); err != nil {
		return StoredImage{}, fmt.Errorf("upload %s: %w", path, err)
	}
	return StoredImage{Path: path, URL: b.bucket.GetPublicURL(path)}, nil
}

// Check lists at most one object.
func (b *SupabaseBucket) Check(ctx context.Context) error {
	_, err := b.bucket.List(ctx, "", 1)
	return err
}

// MemoryBucket keeps objects in process memory.
type MemoryBucket struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{objects: make(map[string][]byte)}
}

func (b *MemoryBucket) Upload(_ context.Context, path string, data []byte, _ string) (StoredImage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.objects[path]; exists {
		return StoredImage{}, fmt.Errorf("upload %s: object already exists", path)
	}
	b.objects[path] = append([]byte(nil), data...)
	return StoredImage{Path: path, URL: "memory://" + BucketName + "/" + path}, nil
}

func (b *MemoryBucket) Check(context.Context) error { return nil }

// Object returns a copy of the stored bytes.
func (b *MemoryBucket) Object(path string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}
