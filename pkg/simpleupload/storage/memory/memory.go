package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

type object struct {
	data        []byte
	contentType string
	updatedAt   time.Time
}

// Backend is an in-memory implementation of the simpleupload.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string]object),
	}
}

// Has reports whether an object exists at path
func (b *Backend) Has(ctx context.Context, path string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.objects[path]
	return ok, nil
}

// Write stores content in memory
func (b *Backend) Write(ctx context.Context, path string, reader io.Reader, meta simpleupload.WriteMeta) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return &simpleupload.StorageError{Backend: "memory", Key: path, Op: "write", Err: err}
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = object{data: data, contentType: contentType, updatedAt: time.Now().UTC()}
	return nil
}

// Read returns the object content
func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[path]
	if !ok {
		return nil, simpleupload.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete removes the object
func (b *Backend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[path]; !ok {
		return simpleupload.ErrObjectNotFound
	}
	delete(b.objects, path)
	return nil
}

// List returns all objects whose path starts with prefix, sorted by path
func (b *Backend) List(ctx context.Context, prefix string) ([]simpleupload.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var entries []simpleupload.Entry
	for path, obj := range b.objects {
		if strings.HasPrefix(path, prefix) {
			entries = append(entries, simpleupload.Entry{
				Path:      path,
				Size:      int64(len(obj.data)),
				UpdatedAt: obj.updatedAt,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Stat returns object metadata
func (b *Backend) Stat(ctx context.Context, path string) (*simpleupload.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[path]
	if !ok {
		return nil, simpleupload.ErrObjectNotFound
	}
	sum := md5.Sum(obj.data)
	return &simpleupload.ObjectMeta{
		Path:        path,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		UpdatedAt:   obj.updatedAt,
		ETag:        hex.EncodeToString(sum[:]),
	}, nil
}

// Len returns the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
