// This file defines forms, their submissions and uploaded files.

package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Form Status
// =============================================================================

// FormStatus represents the lifecycle state of a form.
type FormStatus string

const (
	// FormStatusDraft forms are editable and reject submissions.
	FormStatusDraft FormStatus = "draft"

	// FormStatusPublished forms accept submissions.
	FormStatusPublished FormStatus = "published"

	// FormStatusClosed forms are read-only.
	FormStatusClosed FormStatus = "closed"
)

// IsValid returns true if the status is a recognized value.
func (s FormStatus) IsValid() bool {
	switch s {
	case FormStatusDraft, FormStatusPublished, FormStatusClosed:
		return true
	}
	return false
}

// AcceptsSubmissions returns true if the form takes new responses.
func (s FormStatus) AcceptsSubmissions() bool {
	return s == FormStatusPublished
}

// =============================================================================
// Form
// =============================================================================

const (
	// MaxFormTitleLength bounds form titles.
	MaxFormTitleLength = 200

	// BytesPerMB is the divisor used when charging uploads against storage quota.
	BytesPerMB = 1024 * 1024
)

// Form is a user-owned form definition. Fields holds the opaque field schema.
type Form struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Title       string
	Description string
	Fields      json.RawMessage
	Status      FormStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsOwnedBy returns true if the form belongs to the user.
func (f *Form) IsOwnedBy(userID uuid.UUID) bool {
	return f.UserID == userID
}

// CreateFormParams contains the parameters for creating a form.
type CreateFormParams struct {
	UserID      uuid.UUID
	Title       string
	Description string
	Fields      json.RawMessage
	Status      FormStatus
}

// Validate normalizes and checks the parameters.
func (p *CreateFormParams) Validate() error {
	v := &ValidationError{Op: "form.validate"}

	p.Title = strings.TrimSpace(p.Title)
	switch {
	case p.Title == "":
		v.Add("title", "Title is required")
	case len(p.Title) > MaxFormTitleLength:
		v.Add("title", "Title must be 200 characters or fewer")
	}
	if p.Status == "" {
		p.Status = FormStatusPublished
	}
	if !p.Status.IsValid() {
		v.Add("status", "Status must be draft, published or closed")
	}
	if len(p.Fields) > 0 && !json.Valid(p.Fields) {
		v.Add("fields", "Fields must be valid JSON")
	}
	return v.Err()
}

// =============================================================================
// Submission
// =============================================================================

// Submission is one response to a form.
type Submission struct {
	ID          uuid.UUID
	FormID      uuid.UUID
	Data        json.RawMessage
	RemoteAddr  string
	SubmittedAt time.Time
}

// =============================================================================
// Files
// =============================================================================

// FormFile is a file uploaded against a form.
type FormFile struct {
	ID          uuid.UUID
	FormID      uuid.UUID
	StorageKey  string
	Filename    string
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}

// SizeToMB converts a byte count to whole megabytes, rounding up.
// 2,048,000 bytes charges 2MB.
func SizeToMB(bytes int64) int64 {
	if bytes <= 0 {
		return 0
	}
	return (bytes + BytesPerMB - 1) / BytesPerMB
}
