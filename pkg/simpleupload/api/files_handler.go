package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// FilesHandler streams committed objects from a BlobStore. It is meant for
// development; production deployments publish the store directly.
type FilesHandler struct {
	store simpleupload.BlobStore
}

func NewFilesHandler(store simpleupload.BlobStore) *FilesHandler {
	return &FilesHandler{store: store}
}

// Routes returns the router for file serving
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/*", h.ServeFile)
	r.Head("/*", h.ServeFile)
	return r
}

// ServeFile writes the object named by the wildcard path
func (h *FilesHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || strings.Contains(key, "..") {
		renderError(w, r, http.StatusBadRequest, "Invalid path")
		return
	}

	meta, err := h.store.Stat(r.Context(), key)
	if err != nil {
		if simpleupload.IsNotFound(err) {
			renderError(w, r, http.StatusNotFound, "File not found")
			return
		}
		slog.Error("Failed to stat file", "key", key, "error", err)
		renderError(w, r, http.StatusInternalServerError, "Failed to read file")
		return
	}

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if meta.ETag != "" {
		w.Header().Set("ETag", strconv.Quote(meta.ETag))
	}
	if !meta.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", meta.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if r.Method == http.MethodHead {
		return
	}

	reader, err := h.store.Read(r.Context(), key)
	if err != nil {
		slog.Error("Failed to open file", "key", key, "error", err)
		renderError(w, r, http.StatusInternalServerError, "Failed to read file")
		return
	}
	defer reader.Close()

	if _, err := io.Copy(w, reader); err != nil {
		slog.Error("Failed to stream file", "key", key, "error", err)
	}
}
