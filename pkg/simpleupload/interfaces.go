package simpleupload

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// BlobStore defines the interface for durable storage backends
type BlobStore interface {
	// Has reports whether an object exists at path
	Has(ctx context.Context, path string) (bool, error)

	// Write streams reader to path, replacing any existing object
	Write(ctx context.Context, path string, reader io.Reader, meta WriteMeta) error

	// Read opens the object at path. The caller closes the reader.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path
	Delete(ctx context.Context, path string) error

	// List returns the objects whose path starts with prefix
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Stat returns metadata for the object at path
	Stat(ctx context.Context, path string) (*ObjectMeta, error)
}

// Record is the owning entity of file attributes. Attribute values are the
// committed filenames; OldAttribute returns the last persisted value.
type Record interface {
	Attribute(name string) string
	OldAttribute(name string) string
	SetAttribute(name, value string)
}

// Lifecycle is invoked synchronously by the record persistence layer. A
// non-nil error vetoes the underlying persistence operation.
type Lifecycle interface {
	BeforeInsert(ctx context.Context, record Record) error
	BeforeUpdate(ctx context.Context, record Record) error
	BeforeDelete(ctx context.Context, record Record) error
}

// Repository defines the interface for record persistence
type Repository interface {
	Insert(ctx context.Context, entity *Entity) error
	Get(ctx context.Context, id uuid.UUID) (*Entity, error)
	Update(ctx context.Context, entity *Entity) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, kind string) ([]*Entity, error)
}

// EventSink receives notifications after files change state
type EventSink interface {
	// FilesStaged is fired after an upload group is written to the temp area
	FilesStaged(ctx context.Context, attribute string, files []StagedFile) error

	// FilesCommitted is fired after a variant set is promoted (after-upload)
	FilesCommitted(ctx context.Context, attribute string, files []DurableFile) error

	// FilesRemoved is fired after a durable variant set is deleted
	FilesRemoved(ctx context.Context, attribute string, filename string) error
}
