// Package service contains the business logic layer.
//
// This file implements forms, submissions and file uploads. Quota charging
// for these operations happens in the request interceptor before the service
// is called.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"path/filepath"
	"time"

	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/metrics"
	"github.com/DukeRupert/formwell/internal/repository"
	"github.com/DukeRupert/formwell/internal/storage"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// FileURLExpiry is how long returned file URLs stay valid.
const FileURLExpiry = 1 * time.Hour

// FormQueries is the subset of repository queries used by FormService.
// *repository.Queries satisfies it.
type FormQueries interface {
	CreateForm(ctx context.Context, arg repository.CreateFormParams) (repository.Form, error)
	GetFormByID(ctx context.Context, id uuid.UUID) (repository.Form, error)
	CreateSubmission(ctx context.Context, arg repository.CreateSubmissionParams) (repository.Submission, error)
	CreateFormFile(ctx context.Context, arg repository.CreateFormFileParams) (repository.FormFile, error)
}

// =============================================================================
// Interface Definition
// =============================================================================

// FormService defines operations on forms and their responses.
type FormService interface {
	// Create creates a form owned by params.UserID.
	Create(ctx context.Context, params domain.CreateFormParams) (*domain.Form, error)

	// Get returns a form owned by userID. Forms of other users are reported
	// as not found.
	Get(ctx context.Context, userID, formID uuid.UUID) (*domain.Form, error)

	// Submit stores a submission for a published form.
	Submit(ctx context.Context, userID, formID uuid.UUID, data json.RawMessage, remoteAddr string) (*domain.Submission, error)

	// Upload stores files against a form and returns their records.
	Upload(ctx context.Context, userID, formID uuid.UUID, files []*multipart.FileHeader) ([]UploadedFile, error)
}

// UploadedFile is a stored file and a URL to fetch it.
type UploadedFile struct {
	domain.FormFile
	URL string
}

// =============================================================================
// Implementation
// =============================================================================

type formService struct {
	queries      FormQueries
	storage      storage.Storage
	maxFileBytes int64
	logger       *slog.Logger
}

// NewFormService creates a new FormService. maxFileBytes caps a single
// stored file; 0 means no cap.
func NewFormService(queries FormQueries, store storage.Storage, maxFileBytes int64, logger *slog.Logger) FormService {
	return &formService{
		queries:      queries,
		storage:      store,
		maxFileBytes: maxFileBytes,
		logger:       logger,
	}
}

// Create creates a form.
func (s *formService) Create(ctx context.Context, params domain.CreateFormParams) (*domain.Form, error) {
	const op = "form.create"

	if err := params.Validate(); err != nil {
		return nil, err
	}

	var fields pqtype.NullRawMessage
	if len(params.Fields) > 0 {
		fields = pqtype.NullRawMessage{RawMessage: params.Fields, Valid: true}
	}

	row, err := s.queries.CreateForm(ctx, repository.CreateFormParams{
		UserID:      params.UserID,
		Title:       params.Title,
		Description: domain.ToNullString(params.Description),
		Fields:      fields,
		Status:      string(params.Status),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create form")
	}

	metrics.FormsCreated.Inc()
	s.logger.Info("Form created", "form_id", row.ID, "user_id", row.UserID)

	return toDomainForm(row), nil
}

// Get returns a form owned by userID.
func (s *formService) Get(ctx context.Context, userID, formID uuid.UUID) (*domain.Form, error) {
	const op = "form.get"

	row, err := s.queries.GetFormByID(ctx, formID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "form", formID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to get form")
	}

	form := toDomainForm(row)
	if !form.IsOwnedBy(userID) {
		return nil, domain.NotFound(op, "form", formID.String())
	}
	return form, nil
}

// Submit stores a submission.
func (s *formService) Submit(ctx context.Context, userID, formID uuid.UUID, data json.RawMessage, remoteAddr string) (*domain.Submission, error) {
	const op = "form.submit"

	if len(data) == 0 || !json.Valid(data) {
		return nil, domain.NewValidationError(op, "data", "Submission data must be valid JSON")
	}

	form, err := s.Get(ctx, userID, formID)
	if err != nil {
		return nil, err
	}
	if !form.Status.AcceptsSubmissions() {
		return nil, domain.Errorf(domain.ECONFLICT, op, "Form %q is not accepting submissions", form.Title)
	}

	row, err := s.queries.CreateSubmission(ctx, repository.CreateSubmissionParams{
		FormID:     formID,
		Data:       data,
		RemoteAddr: domain.ToNullString(remoteAddr),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to store submission")
	}

	metrics.SubmissionsReceived.Inc()

	return &domain.Submission{
		ID:          row.ID,
		FormID:      row.FormID,
		Data:        row.Data,
		RemoteAddr:  domain.NullStringValue(row.RemoteAddr),
		SubmittedAt: row.SubmittedAt,
	}, nil
}

// Upload stores files against a form. Files stored before a failure are
// removed again so a failed request leaves nothing behind.
func (s *formService) Upload(ctx context.Context, userID, formID uuid.UUID, files []*multipart.FileHeader) ([]UploadedFile, error) {
	const op = "form.upload"

	if len(files) == 0 {
		return nil, domain.NewValidationError(op, "files", "At least one file is required")
	}

	if _, err := s.Get(ctx, userID, formID); err != nil {
		return nil, err
	}

	var stored []string
	cleanup := func() {
		for _, key := range stored {
			if err := s.storage.Delete(context.WithoutCancel(ctx), key); err != nil {
				s.logger.Warn("Failed to remove uploaded file after error", "key", key, "error", err)
			}
		}
	}

	uploaded := make([]UploadedFile, 0, len(files))
	for _, fh := range files {
		file, key, err := s.storeFile(ctx, op, formID, fh)
		if err != nil {
			cleanup()
			return nil, err
		}
		stored = append(stored, key)

		url, err := s.storage.URL(ctx, key, FileURLExpiry)
		if err != nil {
			s.logger.Warn("Failed to build file URL", "key", key, "error", err)
		}
		uploaded = append(uploaded, UploadedFile{FormFile: *file, URL: url})
	}

	s.logger.Info("Files uploaded", "form_id", formID, "user_id", userID, "count", len(uploaded))
	return uploaded, nil
}

// storeFile writes one multipart file to storage and records it.
func (s *formService) storeFile(ctx context.Context, op string, formID uuid.UUID, fh *multipart.FileHeader) (*domain.FormFile, string, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", domain.Internal(err, op, "failed to read uploaded file")
	}
	defer f.Close()

	contentType := storage.DetectContentType(fh.Header.Get("Content-Type"), fh.Filename, f)
	if !storage.IsAllowedUploadType(contentType) {
		return nil, "", domain.NewValidationError(op, "files", fmt.Sprintf("File type %s is not allowed", contentType))
	}
	// DetectContentType may have consumed the head of the file.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, "", domain.Internal(err, op, "failed to rewind uploaded file")
	}

	key := storage.FileKey(formID, fh.Filename, contentType)
	err = s.storage.Put(ctx, key, f, storage.PutOptions{ContentType: contentType, MaxSize: s.maxFileBytes})
	if storage.IsTooLarge(err) {
		return nil, "", domain.NewValidationError(op, "files", fmt.Sprintf("File %s is too large", filepath.Base(fh.Filename)))
	}
	if err != nil {
		return nil, "", domain.Internal(err, op, "failed to store uploaded file")
	}

	row, err := s.queries.CreateFormFile(ctx, repository.CreateFormFileParams{
		FormID:      formID,
		StorageKey:  key,
		Filename:    filepath.Base(fh.Filename),
		ContentType: contentType,
		SizeBytes:   fh.Size,
	})
	if err != nil {
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn("Failed to remove orphaned file", "key", key, "error", delErr)
		}
		return nil, "", domain.Internal(err, op, "failed to record uploaded file")
	}

	metrics.FileBytesUploaded.Add(float64(fh.Size))

	return &domain.FormFile{
		ID:          row.ID,
		FormID:      row.FormID,
		StorageKey:  row.StorageKey,
		Filename:    row.Filename,
		ContentType: row.ContentType,
		SizeBytes:   row.SizeBytes,
		CreatedAt:   row.CreatedAt,
	}, key, nil
}

func toDomainForm(row repository.Form) *domain.Form {
	var fields json.RawMessage
	if row.Fields.Valid {
		fields = row.Fields.RawMessage
	}
	return &domain.Form{
		ID:          row.ID,
		UserID:      row.UserID,
		Title:       row.Title,
		Description: domain.NullStringValue(row.Description),
		Fields:      fields,
		Status:      domain.FormStatus(row.Status),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
