// Package handler contains the JSON API handlers.
//
// This file implements the form, submission and file upload endpoints.
// Quota for create, submit and upload is charged by the quota middleware
// before these handlers run.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/DukeRupert/formwell/internal/auth"
	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/service"
	"github.com/google/uuid"
)

const (
	// maxJSONBodyBytes caps form definitions and submissions.
	maxJSONBodyBytes = 1 << 20

	// multipartMemoryBytes is how much of an upload is buffered in memory
	// before spilling to temporary files.
	multipartMemoryBytes = 8 << 20
)

// =============================================================================
// Request / Response Types
// =============================================================================

type createFormRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Fields      json.RawMessage `json:"fields"`
	Status      string          `json:"status"`
}

// FormResponse is the JSON representation of a form.
type FormResponse struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Fields      json.RawMessage `json:"fields,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SubmissionResponse is the JSON representation of a stored submission.
type SubmissionResponse struct {
	ID          uuid.UUID `json:"id"`
	FormID      uuid.UUID `json:"form_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// FileResponse is the JSON representation of an uploaded file.
type FileResponse struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
}

func newFormResponse(f *domain.Form) FormResponse {
	return FormResponse{
		ID:          f.ID,
		Title:       f.Title,
		Description: f.Description,
		Fields:      f.Fields,
		Status:      string(f.Status),
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

// =============================================================================
// Handler
// =============================================================================

// FormHandler serves the forms API.
type FormHandler struct {
	forms  service.FormService
	logger *slog.Logger
}

// NewFormHandler creates a new FormHandler.
func NewFormHandler(forms service.FormService, logger *slog.Logger) *FormHandler {
	return &FormHandler{
		forms:  forms,
		logger: logger,
	}
}

// RegisterRoutes registers the form routes with the provided mux.
//
// Routes:
//   - POST /api/forms
//   - GET /api/forms/{id}
//   - POST /api/forms/{id}/submissions
//   - POST /api/forms/{id}/files
func (h *FormHandler) RegisterRoutes(mux *http.ServeMux, requirePrincipal func(http.Handler) http.Handler) {
	mux.Handle("POST /api/forms", requirePrincipal(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/forms/{id}", requirePrincipal(http.HandlerFunc(h.Show)))
	mux.Handle("POST /api/forms/{id}/submissions", requirePrincipal(http.HandlerFunc(h.Submit)))
	mux.Handle("POST /api/forms/{id}/files", requirePrincipal(http.HandlerFunc(h.Upload)))
}

// Create handles POST /api/forms.
func (h *FormHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)
	if p == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	var req createFormRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err := dec.Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EINVALID, "form.create", "Request body must be a JSON object"))
		return
	}

	form, err := h.forms.Create(r.Context(), domain.CreateFormParams{
		UserID:      p.UserID,
		Title:       req.Title,
		Description: req.Description,
		Fields:      req.Fields,
		Status:      domain.FormStatus(req.Status),
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, newFormResponse(form))
}

// Show handles GET /api/forms/{id}.
func (h *FormHandler) Show(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)
	if p == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	formID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		NotFoundResponse(w, r, h.logger)
		return
	}

	form, err := h.forms.Get(r.Context(), p.UserID, formID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newFormResponse(form))
}

// Submit handles POST /api/forms/{id}/submissions. The request body is the
// submission data.
func (h *FormHandler) Submit(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)
	if p == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	formID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		NotFoundResponse(w, r, h.logger)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EINVALID, "form.submit", "Failed to read request body"))
		return
	}

	sub, err := h.forms.Submit(r.Context(), p.UserID, formID, data, r.RemoteAddr)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmissionResponse{
		ID:          sub.ID,
		FormID:      sub.FormID,
		SubmittedAt: sub.SubmittedAt,
	})
}

// Upload handles POST /api/forms/{id}/files. Every file part of the
// multipart body is stored, whatever its field name.
func (h *FormHandler) Upload(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)
	if p == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	formID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		NotFoundResponse(w, r, h.logger)
		return
	}

	// A no-op when the quota middleware already parsed the body.
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			ErrorResponse(w, r, h.logger, domain.Errorf(domain.ETOOLARGE, "form.upload", "Upload exceeds %d bytes", maxErr.Limit))
			return
		}
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EINVALID, "form.upload", "Request must be multipart/form-data"))
		return
	}

	files, err := h.forms.Upload(r.Context(), p.UserID, formID, multipartFiles(r.MultipartForm))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := make([]FileResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, FileResponse{
			ID:          f.ID,
			Filename:    f.Filename,
			ContentType: f.ContentType,
			SizeBytes:   f.SizeBytes,
			URL:         f.URL,
		})
	}
	writeJSON(w, http.StatusCreated, map[string]any{"files": resp})
}

// multipartFiles returns every file part of form ordered by field name.
func multipartFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	names := make([]string, 0, len(form.File))
	for name := range form.File {
		names = append(names, name)
	}
	sort.Strings(names)

	var files []*multipart.FileHeader
	for _, name := range names {
		files = append(files, form.File[name]...)
	}
	return files
}
