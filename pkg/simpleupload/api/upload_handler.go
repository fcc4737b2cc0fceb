// Package api exposes the upload endpoint, reference record endpoints and
// development file serving over chi.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/stage"
)

// DefaultFieldName is the multipart field carrying the uploaded parts.
const DefaultFieldName = "file"

// DefaultMaxMemory bounds the multipart bytes held in memory before spilling
// to disk.
const DefaultMaxMemory = 32 << 20

// UploadHandler stages uploads for a set of attributes.
type UploadHandler struct {
	stagers   map[string]*stage.Stager
	field     string
	maxMemory int64
	logger    *slog.Logger
}

// UploadOption configures an UploadHandler.
type UploadOption func(*UploadHandler)

// WithFieldName sets the multipart field name.
func WithFieldName(name string) UploadOption {
	return func(h *UploadHandler) {
		if name != "" {
			h.field = name
		}
	}
}

// WithMaxMemory sets the in-memory multipart limit.
func WithMaxMemory(n int64) UploadOption {
	return func(h *UploadHandler) {
		if n > 0 {
			h.maxMemory = n
		}
	}
}

// WithUploadLogger sets the logger.
func WithUploadLogger(l *slog.Logger) UploadOption {
	return func(h *UploadHandler) {
		h.logger = l
	}
}

// NewUploadHandler serves one stager per attribute name.
func NewUploadHandler(stagers []*stage.Stager, opts ...UploadOption) *UploadHandler {
	h := &UploadHandler{
		stagers:   make(map[string]*stage.Stager, len(stagers)),
		field:     DefaultFieldName,
		maxMemory: DefaultMaxMemory,
		logger:    slog.Default(),
	}
	for _, s := range stagers {
		h.stagers[s.Attribute().Name] = s
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for upload endpoints
func (h *UploadHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.HandleFunc("/{attribute}", h.Upload)
	return r
}

// UploadResponse is the success payload. Files is only set in the directory
// layout and maps each variant to its temp-relative path.
type UploadResponse struct {
	Name  string            `json:"name"`
	Files map[string]string `json:"files,omitempty"`
}

// ErrorResponse is the failure payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Upload stages the parts of one request as a single group.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		renderError(w, r, http.StatusBadRequest, "Only POST is allowed")
		return
	}

	attribute := chi.URLParam(r, "attribute")
	stager, ok := h.stagers[attribute]
	if !ok {
		renderError(w, r, http.StatusNotFound, fmt.Sprintf("Unknown attribute %q.", attribute))
		return
	}

	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		slog.Error("Failed to parse multipart form", "attribute", attribute, "error", err)
		renderError(w, r, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := collectParts(r.MultipartForm, h.field)
	if len(headers) == 0 {
		renderError(w, r, http.StatusBadRequest, "No files")
		return
	}

	parts := make([]stage.Part, 0, len(headers))
	for _, ph := range headers {
		f, err := ph.header.Open()
		if err != nil {
			h.logger.Error("failed to open uploaded part", "attribute", attribute, "variant", ph.variant, "error", err)
			renderError(w, r, http.StatusInternalServerError, simpleupload.ErrCannotUpload.Error())
			return
		}
		defer f.Close()
		parts = append(parts, stage.Part{
			Variant: ph.variant,
			Blob: &simpleupload.UploadedBlob{
				Name:        ph.header.Filename,
				ContentType: ph.header.Header.Get("Content-Type"),
				Size:        ph.header.Size,
				Body:        f,
			},
		})
	}

	result, err := stager.StageAll(r.Context(), parts)
	if err != nil {
		status, msg := uploadErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to stage upload", "attribute", attribute, "error", err)
		}
		renderError(w, r, status, msg)
		return
	}

	resp := UploadResponse{Name: result.BaseName}
	if stager.Layout() == simpleupload.LayoutDirectory {
		resp.Files = make(map[string]string, len(result.Files))
		for _, f := range result.Files {
			resp.Files[f.Variant] = simpleupload.TempName(simpleupload.LayoutDirectory, f.Variant, f.BaseName)
		}
	}
	h.logger.Info("upload staged", "attribute", attribute, "name", result.BaseName, "variants", len(result.Files))
	render.JSON(w, r, resp)
}

type partHeader struct {
	variant string
	header  *multipart.FileHeader
}

// collectParts maps the form fields of field to variants. Parts sent under
// the bare field are positional: the first is the original and later ones
// are named by their index. "field[name]" names the variant explicitly and
// "field[0]" is the original. The original is returned first.
func collectParts(form *multipart.Form, field string) []partHeader {
	byVariant := make(map[string]*multipart.FileHeader)
	for key, files := range form.File {
		if len(files) == 0 {
			continue
		}
		switch {
		case key == field || key == field+"[]":
			for i, fh := range files {
				byVariant[indexVariant(strconv.Itoa(i))] = fh
			}
		case strings.HasPrefix(key, field+"[") && strings.HasSuffix(key, "]"):
			name := key[len(field)+1 : len(key)-1]
			if name == "" {
				continue
			}
			byVariant[indexVariant(name)] = files[0]
		}
	}

	out := make([]partHeader, 0, len(byVariant))
	for v, fh := range byVariant {
		out = append(out, partHeader{variant: v, header: fh})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].variant == simpleupload.VariantOriginal {
			return out[j].variant != simpleupload.VariantOriginal
		}
		if out[j].variant == simpleupload.VariantOriginal {
			return false
		}
		return out[i].variant < out[j].variant
	})
	return out
}

func indexVariant(key string) string {
	if key == "0" {
		return simpleupload.VariantOriginal
	}
	return key
}

func uploadErrorStatus(err error) (int, string) {
	var (
		verr *simpleupload.ValidationError
		merr *simpleupload.MissingVariantError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.As(err, &merr):
		return http.StatusBadRequest, merr.Error()
	case errors.Is(err, simpleupload.ErrNoFiles):
		return http.StatusBadRequest, "No files"
	default:
		return http.StatusInternalServerError, simpleupload.ErrCannotUpload.Error()
	}
}

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}
