package simpleupload

import (
	"bytes"
	"io"
	"time"
)

// VariantOriginal is the variant that is always treated as the base file of a
// group. Its durable copy lives at the attribute root.
const VariantOriginal = "original"

// Layout selects how staged files are named inside the temp directory.
type Layout string

// Temp layouts.
const (
	// LayoutFlat stores "<variant>!_!<base>" directly in the temp directory.
	LayoutFlat Layout = "flat"
	// LayoutDirectory stores "<variant>/<base>" under a per-variant subdirectory.
	LayoutDirectory Layout = "directory"
)

// Policy names the validator applied to uploaded blobs.
type Policy string

// Validation policies.
const (
	// PolicyImage requires the bytes to decode as a supported raster image.
	PolicyImage Policy = "image"
	// PolicyFile accepts any content subject to the size/extension options.
	PolicyFile Policy = "file"
)

// UploadedBlob is one incoming file part. It is owned by the request and is
// discarded after staging or rejection.
type UploadedBlob struct {
	Name        string        // declared original file name
	ContentType string        // declared content type, may be empty
	Size        int64         // declared size in bytes
	Body        io.ReadSeeker // raw content
}

// NewBlobFromBytes wraps data as an UploadedBlob.
func NewBlobFromBytes(name, contentType string, data []byte) *UploadedBlob {
	return &UploadedBlob{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	}
}

// StagedFile is a blob written to the temp area.
type StagedFile struct {
	TempDir  string `json:"-"`
	Variant  string `json:"variant"`
	BaseName string `json:"base_name"`
	Path     string `json:"-"` // absolute temp path
	Size     int64  `json:"size"`
}

// DurableFile is a committed blob in a BlobStore.
type DurableFile struct {
	Variant  string `json:"variant"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// ValidationOptions constrain a Policy. Zero values disable a constraint.
type ValidationOptions struct {
	MaxSize    int64    `json:"max_size,omitempty" yaml:"max_size,omitempty" validate:"gte=0"`
	MinSize    int64    `json:"min_size,omitempty" yaml:"min_size,omitempty" validate:"gte=0"`
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty" validate:"dive,required"`
	MimeTypes  []string `json:"mime_types,omitempty" yaml:"mime_types,omitempty" validate:"dive,required"`

	// Image policy only.
	MaxWidth  int `json:"max_width,omitempty" yaml:"max_width,omitempty" validate:"gte=0"`
	MaxHeight int `json:"max_height,omitempty" yaml:"max_height,omitempty" validate:"gte=0"`
	MinWidth  int `json:"min_width,omitempty" yaml:"min_width,omitempty" validate:"gte=0"`
	MinHeight int `json:"min_height,omitempty" yaml:"min_height,omitempty" validate:"gte=0"`
	// MaxPixels caps width*height before the image is decoded. Zero means
	// validate.DefaultMaxPixels.
	MaxPixels int64 `json:"max_pixels,omitempty" yaml:"max_pixels,omitempty" validate:"gte=0"`
}

// AttributeConfig configures one file-valued attribute of a record.
type AttributeConfig struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	// Path is the durable attribute root inside the BlobStore. It may be empty.
	Path string `json:"path" yaml:"path"`
	// URL is the public prefix for committed files. When empty the publisher
	// derives one from its base URL and Path.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	Policy  Policy            `json:"policy" yaml:"policy" validate:"oneof=image file"`
	Options ValidationOptions `json:"options" yaml:"options"`

	// Unique generates a collision-resistant base filename instead of using
	// the declared upload name.
	Unique bool `json:"unique" yaml:"unique"`
	// DeleteOnSave removes the previous durable set when the value changes.
	DeleteOnSave bool `json:"delete_on_save" yaml:"delete_on_save"`
	// DeleteOnDelete removes the durable set when the record is deleted.
	DeleteOnDelete bool `json:"delete_on_delete" yaml:"delete_on_delete"`
}

// Transform is a client-side resize rule. The server never resizes; the map
// key is the variant name the client uploads the result under.
type Transform struct {
	MaxWidth  int `json:"max_width,omitempty" yaml:"max_width,omitempty"`
	MaxHeight int `json:"max_height,omitempty" yaml:"max_height,omitempty"`
}

// Settings are shared by every attribute of a deployment.
type Settings struct {
	TempDir    string               `json:"temp_dir" yaml:"temp_dir" validate:"required"`
	Layout     Layout               `json:"layout" yaml:"layout" validate:"oneof=flat directory"`
	Transforms map[string]Transform `json:"transforms,omitempty" yaml:"transforms,omitempty"`
	// TransmitOriginal reports whether clients send the untouched original in
	// addition to the transforms. When false and transforms are configured,
	// Transforms must contain an "original" key.
	TransmitOriginal bool `json:"transmit_original" yaml:"transmit_original"`
}

// WriteMeta is passed to BlobStore.Write.
type WriteMeta struct {
	ContentType string
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Path        string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// Entry is one result of BlobStore.List.
type Entry struct {
	Path      string
	Size      int64
	UpdatedAt time.Time
}
