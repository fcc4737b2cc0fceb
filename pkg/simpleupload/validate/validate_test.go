package validate_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/validate"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	photo := pngBytes(t, 40, 20)

	tests := []struct {
		name    string
		blob    *simpleupload.UploadedBlob
		policy  simpleupload.Policy
		opts    simpleupload.ValidationOptions
		wantErr string
	}{
		{
			name:   "png accepted by image policy",
			blob:   simpleupload.NewBlobFromBytes("photo.png", "image/png", photo),
			policy: simpleupload.PolicyImage,
		},
		{
			name:    "text rejected by image policy",
			blob:    simpleupload.NewBlobFromBytes("notes.png", "image/png", []byte("hello world")),
			policy:  simpleupload.PolicyImage,
			wantErr: "is not an image",
		},
		{
			name:   "text accepted by file policy",
			blob:   simpleupload.NewBlobFromBytes("notes.txt", "text/plain", []byte("hello world")),
			policy: simpleupload.PolicyFile,
		},
		{
			name:    "empty file",
			blob:    simpleupload.NewBlobFromBytes("empty.txt", "text/plain", nil),
			policy:  simpleupload.PolicyFile,
			wantErr: "is empty",
		},
		{
			name:    "too big",
			blob:    simpleupload.NewBlobFromBytes("big.txt", "text/plain", bytes.Repeat([]byte("a"), 2048)),
			policy:  simpleupload.PolicyFile,
			opts:    simpleupload.ValidationOptions{MaxSize: 1024},
			wantErr: "cannot exceed 1.0 KiB",
		},
		{
			name:    "too small",
			blob:    simpleupload.NewBlobFromBytes("tiny.txt", "text/plain", []byte("a")),
			policy:  simpleupload.PolicyFile,
			opts:    simpleupload.ValidationOptions{MinSize: 10},
			wantErr: "too small",
		},
		{
			name:    "extension not allowed",
			blob:    simpleupload.NewBlobFromBytes("notes.txt", "text/plain", []byte("hello")),
			policy:  simpleupload.PolicyFile,
			opts:    simpleupload.ValidationOptions{Extensions: []string{"pdf", "doc"}},
			wantErr: "extensions are allowed: pdf, doc",
		},
		{
			name:   "extension allowed case insensitive",
			blob:   simpleupload.NewBlobFromBytes("NOTES.TXT", "text/plain", []byte("hello")),
			policy: simpleupload.PolicyFile,
			opts:   simpleupload.ValidationOptions{Extensions: []string{".txt"}},
		},
		{
			name:   "mime wildcard",
			blob:   simpleupload.NewBlobFromBytes("photo.png", "", photo),
			policy: simpleupload.PolicyFile,
			opts:   simpleupload.ValidationOptions{MimeTypes: []string{"image/*"}},
		},
		{
			name:    "mime not allowed",
			blob:    simpleupload.NewBlobFromBytes("notes.txt", "", []byte("hello")),
			policy:  simpleupload.PolicyFile,
			opts:    simpleupload.ValidationOptions{MimeTypes: []string{"image/png"}},
			wantErr: "MIME types are allowed",
		},
		{
			name:    "image too narrow",
			blob:    simpleupload.NewBlobFromBytes("photo.png", "image/png", photo),
			policy:  simpleupload.PolicyImage,
			opts:    simpleupload.ValidationOptions{MinWidth: 100},
			wantErr: "width cannot be smaller than 100",
		},
		{
			name:    "image too tall",
			blob:    simpleupload.NewBlobFromBytes("photo.png", "image/png", photo),
			policy:  simpleupload.PolicyImage,
			opts:    simpleupload.ValidationOptions{MaxHeight: 10},
			wantErr: "height cannot be larger than 10",
		},
		{
			name:    "missing body",
			blob:    &simpleupload.UploadedBlob{Name: "x"},
			policy:  simpleupload.PolicyFile,
			wantErr: "Please upload a file.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Validate(tt.blob, tt.policy, tt.opts)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *simpleupload.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Message, tt.wantErr)
		})
	}
}

func TestValidateRewindsBody(t *testing.T) {
	data := pngBytes(t, 8, 8)
	blob := simpleupload.NewBlobFromBytes("photo.png", "image/png", data)

	require.NoError(t, validate.Validate(blob, simpleupload.PolicyImage, simpleupload.ValidationOptions{}))

	got, err := io.ReadAll(blob.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestExtension(t *testing.T) {
	sniffed := simpleupload.NewBlobFromBytes("upload.bin", "", pngBytes(t, 2, 2))
	assert.Equal(t, ".png", validate.Extension(sniffed))

	unknown := simpleupload.NewBlobFromBytes("Report.DAT", "", []byte{0x00, 0x01, 0x02, 0x03})
	assert.Equal(t, ".dat", validate.Extension(unknown))

	assert.Equal(t, "", validate.Extension(nil))
}

func TestCheckOptions(t *testing.T) {
	assert.NoError(t, validate.CheckOptions(simpleupload.ValidationOptions{MaxSize: 10, MinSize: 1}))
	assert.Error(t, validate.CheckOptions(simpleupload.ValidationOptions{MaxSize: 10, MinSize: 20}))
	assert.Error(t, validate.CheckOptions(simpleupload.ValidationOptions{MaxWidth: -1}))
	assert.Error(t, validate.CheckOptions(simpleupload.ValidationOptions{Extensions: []string{""}}))
}

// pngHeader returns a PNG that declares a w*h RGBA canvas but carries no
// pixel data.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(kind string, data []byte) {
		binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		buf.WriteString(kind)
		buf.Write(data)
		binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(append([]byte(kind), data...)))
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk("IHDR", ihdr)
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestValidateImageDimensions(t *testing.T) {
	photo := pngBytes(t, 40, 20)

	tests := []struct {
		name    string
		data    []byte
		opts    simpleupload.ValidationOptions
		wantErr string
	}{
		{name: "within limits", data: photo, opts: simpleupload.ValidationOptions{MaxWidth: 40, MaxHeight: 20, MinWidth: 40, MinHeight: 20}},
		{name: "too narrow", data: photo, opts: simpleupload.ValidationOptions{MinWidth: 50}, wantErr: "width cannot be smaller than 50"},
		{name: "too short", data: photo, opts: simpleupload.ValidationOptions{MinHeight: 30}, wantErr: "height cannot be smaller than 30"},
		{name: "too wide", data: photo, opts: simpleupload.ValidationOptions{MaxWidth: 30}, wantErr: "width cannot be larger than 30"},
		{name: "too tall", data: photo, opts: simpleupload.ValidationOptions{MaxHeight: 10}, wantErr: "height cannot be larger than 10"},
		{name: "pixel ceiling", data: photo, opts: simpleupload.ValidationOptions{MaxPixels: 100}, wantErr: "more than 100 pixels"},
		{name: "forged header beyond max width", data: pngHeader(12000, 12000), opts: simpleupload.ValidationOptions{MaxWidth: 100}, wantErr: "width cannot be larger than 100"},
		{name: "forged header beyond default ceiling", data: pngHeader(40000, 40000), wantErr: "more than 50,000,000 pixels"},
		{name: "header without pixel data", data: pngHeader(10, 10), wantErr: "is not an image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := simpleupload.NewBlobFromBytes("photo.png", "image/png", tt.data)
			err := validate.Validate(blob, simpleupload.PolicyImage, tt.opts)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *simpleupload.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Contains(t, verr.Message, tt.wantErr)
		})
	}
}

func TestValidateImageDoesNotDecodeOversizedCanvas(t *testing.T) {
	blob := simpleupload.NewBlobFromBytes("bomb.png", "image/png", pngHeader(20000, 20000))

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	err := validate.Validate(blob, simpleupload.PolicyImage, simpleupload.ValidationOptions{MaxWidth: 100})
	runtime.ReadMemStats(&after)

	require.Error(t, err)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20), "rejected from the header alone")
}
