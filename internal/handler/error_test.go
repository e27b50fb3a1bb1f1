package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/formwell/internal/domain"
)

// =============================================================================
// Error Response Tests - Security Focus
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serveError(err error) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/forms/123", nil)
	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, discardLogger(), err)
	return rec
}

func TestValidationErrorResponse_DoesNotExposeOperationName(t *testing.T) {
	ve := domain.NewValidationError("FormService.Create", "title", "Title is required")

	rec := serveError(ve)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	body := rec.Body.String()
	if strings.Contains(body, "FormService") {
		t.Errorf("response exposes internal operation name: %s", body)
	}

	var resp JSONError
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Error.Code != domain.EINVALID {
		t.Errorf("code = %q, want %q", resp.Error.Code, domain.EINVALID)
	}
	if resp.Error.Fields["title"] != "Title is required" {
		t.Errorf("fields = %v, want title message", resp.Error.Fields)
	}
}

func TestErrorResponse_InternalErrorHidesDetails(t *testing.T) {
	dbErr := &mockDatabaseError{message: "pq: relation \"usage_counters\" does not exist"}
	internalErr := domain.Internal(dbErr, "UsageStore.Increment", "Database query failed")

	rec := serveError(internalErr)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}

	body := rec.Body.String()
	for _, leak := range []string{"pq:", "relation", "UsageStore", "Database query failed"} {
		if strings.Contains(body, leak) {
			t.Errorf("response exposes %q: %s", leak, body)
		}
	}
	if !strings.Contains(body, "internal error") {
		t.Errorf("response should contain generic internal error message, got: %s", body)
	}
}

func TestErrorResponse_UnwrappedErrorReturnsGeneric(t *testing.T) {
	rawErr := &mockDatabaseError{message: "FATAL: password authentication failed for user \"postgres\""}

	rec := serveError(rawErr)

	body := rec.Body.String()
	for _, leak := range []string{"FATAL", "password", "postgres"} {
		if strings.Contains(body, leak) {
			t.Errorf("response exposes %q: %s", leak, body)
		}
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestErrorResponse_NotFoundDoesNotExposeInternals(t *testing.T) {
	notFoundErr := domain.NotFound("FormRepository.GetByID", "form", "550e8400-e29b-41d4-a716-446655440000")

	rec := serveError(notFoundErr)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "Repository") {
		t.Errorf("response exposes repository name: %s", body)
	}
	if !strings.Contains(body, "not found") {
		t.Errorf("response should indicate resource not found: %s", body)
	}
}

func TestErrorResponse_QuotaExceededIsFlat(t *testing.T) {
	q := domain.QuotaExceeded("quota.reserve", domain.ActionSubmitForm, "Monthly submission limit reached", 100, 100)

	// Wrapping must not hide the quota body.
	rec := serveError(domain.Wrap(q, domain.EQUOTA, "handler.submit", "wrapped"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	want := map[string]any{
		"error":           "quota_exceeded",
		"error_code":      domain.CodeQuotaSubmissionsExceeded,
		"action_type":     "submit_form",
		"message":         "Monthly submission limit reached",
		"current_usage":   float64(100),
		"max_limit":       float64(100),
		"percentage_used": float64(100),
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}
	if _, nested := body["error"].(map[string]any); nested {
		t.Error("quota body must not be nested under error")
	}
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EUNAUTHORIZED, http.StatusUnauthorized},
		{domain.EFORBIDDEN, http.StatusForbidden},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.ETOOLARGE, http.StatusRequestEntityTooLarge},
		{domain.EQUOTA, http.StatusTooManyRequests},
		{domain.ERATELIMIT, http.StatusTooManyRequests},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"unknown", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ErrorCodeToHTTPStatus(tt.code); got != tt.want {
				t.Errorf("ErrorCodeToHTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

// mockDatabaseError simulates a database error for testing
type mockDatabaseError struct {
	message string
}

func (e *mockDatabaseError) Error() string {
	return e.message
}
