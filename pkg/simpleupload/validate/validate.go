// Package validate applies the content-type policy of an attribute to an
// uploaded blob before any byte of it reaches the temp area.
package validate

import (
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"
	"sync"

	// Registered raster decoders accepted by the image policy.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// DefaultMaxPixels is the pixel ceiling applied when an image policy sets
// none. Decoding allocates the whole canvas, so the header is checked first.
const DefaultMaxPixels int64 = 50_000_000

var (
	structValidator *validator.Validate
	once            sync.Once
)

func engine() *validator.Validate {
	once.Do(func() {
		structValidator = validator.New()
	})
	return structValidator
}

// Struct validates a configuration struct using its `validate` tags.
func Struct(s any) error {
	return engine().Struct(s)
}

// CheckOptions reports whether opts is internally consistent.
func CheckOptions(opts simpleupload.ValidationOptions) error {
	if err := Struct(opts); err != nil {
		return err
	}
	if opts.MaxSize > 0 && opts.MinSize > opts.MaxSize {
		return fmt.Errorf("min size %d exceeds max size %d", opts.MinSize, opts.MaxSize)
	}
	return nil
}

// Validate checks blob against policy and opts. It returns nil or a
// *simpleupload.ValidationError carrying the first failure. The blob body is
// rewound before returning.
func Validate(blob *simpleupload.UploadedBlob, policy simpleupload.Policy, opts simpleupload.ValidationOptions) error {
	if blob == nil || blob.Body == nil {
		return invalid("Please upload a file.")
	}
	defer blob.Body.Seek(0, io.SeekStart)

	size, err := blobSize(blob)
	if err != nil {
		return invalid(fmt.Sprintf("The file %q could not be read.", blob.Name))
	}
	if size == 0 {
		return invalid(fmt.Sprintf("The file %q is empty.", blob.Name))
	}
	if opts.MaxSize > 0 && size > opts.MaxSize {
		return invalid(fmt.Sprintf("The file %q is too big. Its size cannot exceed %s.", blob.Name, humanize.IBytes(uint64(opts.MaxSize))))
	}
	if opts.MinSize > 0 && size < opts.MinSize {
		return invalid(fmt.Sprintf("The file %q is too small. Its size cannot be smaller than %s.", blob.Name, humanize.IBytes(uint64(opts.MinSize))))
	}

	mtype, err := mimetype.DetectReader(blob.Body)
	if err != nil {
		return invalid(fmt.Sprintf("The file %q could not be read.", blob.Name))
	}
	if len(opts.Extensions) > 0 && !extensionAllowed(blob.Name, mtype, opts.Extensions) {
		return invalid(fmt.Sprintf("Only files with these extensions are allowed: %s.", strings.Join(opts.Extensions, ", ")))
	}
	if len(opts.MimeTypes) > 0 && !mimeAllowed(mtype, opts.MimeTypes) {
		return invalid(fmt.Sprintf("Only files with these MIME types are allowed: %s.", strings.Join(opts.MimeTypes, ", ")))
	}

	switch policy {
	case simpleupload.PolicyFile, "":
		return nil
	case simpleupload.PolicyImage:
		return validateImage(blob, opts)
	default:
		return invalid(fmt.Sprintf("Unknown validation policy %q.", policy))
	}
}

func validateImage(blob *simpleupload.UploadedBlob, opts simpleupload.ValidationOptions) error {
	if _, err := blob.Body.Seek(0, io.SeekStart); err != nil {
		return invalid(fmt.Sprintf("The file %q could not be read.", blob.Name))
	}
	cfg, _, err := image.DecodeConfig(blob.Body)
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return invalid(fmt.Sprintf("The file %q is not an image.", blob.Name))
	}

	width, height := cfg.Width, cfg.Height
	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	switch {
	case opts.MinWidth > 0 && width < opts.MinWidth:
		return invalid(fmt.Sprintf("The image %q is too small. The width cannot be smaller than %d pixels.", blob.Name, opts.MinWidth))
	case opts.MinHeight > 0 && height < opts.MinHeight:
		return invalid(fmt.Sprintf("The image %q is too small. The height cannot be smaller than %d pixels.", blob.Name, opts.MinHeight))
	case opts.MaxWidth > 0 && width > opts.MaxWidth:
		return invalid(fmt.Sprintf("The image %q is too large. The width cannot be larger than %d pixels.", blob.Name, opts.MaxWidth))
	case opts.MaxHeight > 0 && height > opts.MaxHeight:
		return invalid(fmt.Sprintf("The image %q is too large. The height cannot be larger than %d pixels.", blob.Name, opts.MaxHeight))
	case int64(width)*int64(height) > maxPixels:
		return invalid(fmt.Sprintf("The image %q is too large. It cannot have more than %s pixels.", blob.Name, humanize.Comma(maxPixels)))
	}

	if _, err := blob.Body.Seek(0, io.SeekStart); err != nil {
		return invalid(fmt.Sprintf("The file %q could not be read.", blob.Name))
	}
	if _, _, err := image.Decode(blob.Body); err != nil {
		return invalid(fmt.Sprintf("The file %q is not an image.", blob.Name))
	}
	return nil
}

// Extension returns the file extension for blob, including the dot, preferring
// the sniffed type over the declared name.
func Extension(blob *simpleupload.UploadedBlob) string {
	if blob == nil || blob.Body == nil {
		return ""
	}
	defer blob.Body.Seek(0, io.SeekStart)
	if _, err := blob.Body.Seek(0, io.SeekStart); err == nil {
		if mtype, err := mimetype.DetectReader(blob.Body); err == nil && mtype.Extension() != "" {
			return mtype.Extension()
		}
	}
	return strings.ToLower(filepath.Ext(blob.Name))
}

func blobSize(blob *simpleupload.UploadedBlob) (int64, error) {
	end, err := blob.Body.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := blob.Body.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

func extensionAllowed(name string, mtype *mimetype.MIME, allowed []string) bool {
	declared := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	sniffed := strings.TrimPrefix(mtype.Extension(), ".")
	for _, ext := range allowed {
		ext = strings.TrimPrefix(strings.ToLower(ext), ".")
		if ext == declared || (declared == "" && ext == sniffed) {
			return true
		}
	}
	return false
}

func mimeAllowed(mtype *mimetype.MIME, allowed []string) bool {
	for _, m := range allowed {
		if mtype.Is(m) {
			return true
		}
		if prefix, ok := strings.CutSuffix(m, "/*"); ok && strings.HasPrefix(mtype.String(), prefix+"/") {
			return true
		}
	}
	return false
}

func invalid(message string) error {
	return &simpleupload.ValidationError{Message: message}
}
