package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/maneesh/quotadrive/internal/storage"
)

// Blobs is an in-memory ByteStore
type Blobs struct {
	mu      sync.Mutex
	objects  map[string][]byte
	failErr  error
	eraseErr error
}

var _ storage.ByteStore = (*Blobs)(nil)

func NewBlobs() *Blobs {
	return &Blobs{objects: map[string][]byte{}}
}

func (b *Blobs) Stage(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.Handle, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.Handle{}, fmt.Errorf("failed to read payload: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return storage.Handle{}, fmt.Errorf("payload is %d bytes, expected %d", len(data), size)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		return storage.Handle{}, fmt.Errorf("failed to stage object: %w", b.failErr)
	}
	b.objects[key] = data
	return storage.Handle{Key: key, URL: "/memory/" + key}, nil
}

func (b *Blobs) Erase(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.eraseErr != nil {
		return fmt.Errorf("failed to erase object: %w", b.eraseErr)
	}
	delete(b.objects, key)
	return nil
}

func (b *Blobs) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *Blobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// FailStaging makes Stage fail with err until called again with nil
func (b *Blobs) FailStaging(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
}

// FailErasing makes Erase fail with err until called again with nil
func (b *Blobs) FailErasing(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eraseErr = err
}

// Keys lists the stored keys in order
func (b *Blobs) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
