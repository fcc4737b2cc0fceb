package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/commit"
)

// RecordsHandler exposes the reference record service. Saving a record
// commits its staged file attributes.
type RecordsHandler struct {
	service  simpleupload.Service
	behavior *commit.Behavior
}

func NewRecordsHandler(service simpleupload.Service, behavior *commit.Behavior) *RecordsHandler {
	return &RecordsHandler{
		service:  service,
		behavior: behavior,
	}
}

// Routes returns the router for record endpoints
func (h *RecordsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateRecord)
	r.Get("/", h.ListRecords)
	r.Get("/{id}", h.GetRecord)
	r.Put("/{id}", h.UpdateRecord)
	r.Delete("/{id}", h.DeleteRecord)
	r.Get("/{id}/files/{attribute}", h.GetFile)
	r.Delete("/{id}/files/{attribute}", h.RemoveFile)
	return r
}

// RecordRequest is the body of create and update calls. Attribute values are
// staged base filenames returned by the upload endpoint.
type RecordRequest struct {
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes"`
}

// RecordResponse describes a record and the URLs of its committed files
type RecordResponse struct {
	ID         string                       `json:"id"`
	Kind       string                       `json:"kind"`
	Attributes map[string]string            `json:"attributes"`
	URLs       map[string]map[string]string `json:"urls,omitempty"`
	CreatedAt  time.Time                    `json:"created_at"`
	UpdatedAt  time.Time                    `json:"updated_at"`
}

// FileResponse describes the committed file of one attribute
type FileResponse struct {
	Attribute string            `json:"attribute"`
	Filename  string            `json:"filename"`
	Exists    bool              `json:"exists"`
	MimeType  string            `json:"mime_type,omitempty"`
	URLs      map[string]string `json:"urls,omitempty"`
}

// CreateRecord inserts a record and commits its file attributes
func (h *RecordsHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request", "error", err)
		renderError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Kind == "" {
		renderError(w, r, http.StatusBadRequest, "Kind is required")
		return
	}

	entity := simpleupload.NewEntity(req.Kind)
	entity.SetAttributes(req.Attributes)
	if err := h.service.Create(r.Context(), entity); err != nil {
		slog.Error("Failed to create record", "kind", req.Kind, "error", err)
		renderRecordError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.toResponse(entity))
}

// ListRecords lists records, optionally filtered by ?kind=
func (h *RecordsHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	entities, err := h.service.List(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		slog.Error("Failed to list records", "error", err)
		renderRecordError(w, r, err)
		return
	}
	resp := make([]RecordResponse, 0, len(entities))
	for _, e := range entities {
		resp = append(resp, h.toResponse(e))
	}
	render.JSON(w, r, resp)
}

// GetRecord returns one record
func (h *RecordsHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.load(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, h.toResponse(entity))
}

// UpdateRecord merges attribute values into a record and saves it. Changed
// file attributes are committed and their previous sets retired.
func (h *RecordsHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.load(w, r)
	if !ok {
		return
	}
	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request", "error", err)
		renderError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	entity.SetAttributes(req.Attributes)
	if err := h.service.Update(r.Context(), entity); err != nil {
		slog.Error("Failed to update record", "id", entity.ID.String(), "error", err)
		renderRecordError(w, r, err)
		return
	}
	render.JSON(w, r, h.toResponse(entity))
}

// DeleteRecord deletes a record
func (h *RecordsHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "Invalid record ID")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		slog.Error("Failed to delete record", "id", id.String(), "error", err)
		renderRecordError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFile describes the committed file of an attribute
func (h *RecordsHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.load(w, r)
	if !ok {
		return
	}
	attribute := chi.URLParam(r, "attribute")
	if _, known := h.behavior.Attribute(attribute); !known {
		renderError(w, r, http.StatusNotFound, "Unknown attribute")
		return
	}

	resp := FileResponse{Attribute: attribute, Filename: entity.Attribute(attribute)}
	exists, err := h.behavior.FileExists(r.Context(), entity, attribute)
	if err != nil {
		slog.Error("Failed to check file", "attribute", attribute, "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Exists = exists
	if exists {
		if mt, err := h.behavior.MimeType(r.Context(), entity, attribute); err == nil {
			resp.MimeType = mt
		}
		resp.URLs = h.behavior.URLs(entity, attribute)
	}
	render.JSON(w, r, resp)
}

// RemoveFile deletes the committed file of an attribute and clears it
func (h *RecordsHandler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	entity, ok := h.load(w, r)
	if !ok {
		return
	}
	attribute := chi.URLParam(r, "attribute")
	if _, known := h.behavior.Attribute(attribute); !known {
		renderError(w, r, http.StatusNotFound, "Unknown attribute")
		return
	}
	if _, err := h.behavior.RemoveAttribute(r.Context(), entity, attribute); err != nil {
		slog.Error("Failed to remove file", "attribute", attribute, "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.service.Update(r.Context(), entity); err != nil {
		slog.Error("Failed to update record", "id", entity.ID.String(), "error", err)
		renderRecordError(w, r, err)
		return
	}
	render.JSON(w, r, h.toResponse(entity))
}

func (h *RecordsHandler) load(w http.ResponseWriter, r *http.Request) (*simpleupload.Entity, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "Invalid record ID")
		return nil, false
	}
	entity, err := h.service.Get(r.Context(), id)
	if err != nil {
		renderRecordError(w, r, err)
		return nil, false
	}
	return entity, true
}

func (h *RecordsHandler) toResponse(e *simpleupload.Entity) RecordResponse {
	resp := RecordResponse{
		ID:         e.ID.String(),
		Kind:       e.Kind,
		Attributes: e.Attributes(),
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
	for _, attr := range h.behavior.Attributes() {
		if urls := h.behavior.URLs(e, attr.Name); len(urls) > 0 {
			if resp.URLs == nil {
				resp.URLs = make(map[string]map[string]string)
			}
			resp.URLs[attr.Name] = urls
		}
	}
	return resp
}

func renderRecordError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *simpleupload.ValidationError
		merr *simpleupload.MissingVariantError
	)
	switch {
	case errors.Is(err, simpleupload.ErrRecordNotFound):
		renderError(w, r, http.StatusNotFound, "Record not found")
	case errors.As(err, &verr):
		renderError(w, r, http.StatusBadRequest, verr.Message)
	case errors.As(err, &merr):
		renderError(w, r, http.StatusBadRequest, merr.Error())
	case errors.Is(err, simpleupload.ErrCannotUpload):
		renderError(w, r, http.StatusInternalServerError, simpleupload.ErrCannotUpload.Error())
	default:
		renderError(w, r, http.StatusInternalServerError, err.Error())
	}
}
