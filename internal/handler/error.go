package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/formwell/internal/domain"
)

var statusByCode = map[string]int{
	domain.EINVALID:      http.StatusBadRequest,
	domain.EUNAUTHORIZED: http.StatusUnauthorized,
	domain.EFORBIDDEN:    http.StatusForbidden,
	domain.ENOTFOUND:     http.StatusNotFound,
	domain.ECONFLICT:     http.StatusConflict,
	domain.ETOOLARGE:     http.StatusRequestEntityTooLarge,
	domain.EQUOTA:        http.StatusTooManyRequests,
	domain.ERATELIMIT:    http.StatusTooManyRequests,
	domain.EINTERNAL:     http.StatusInternalServerError,
}

// ErrorCodeToHTTPStatus maps a domain error code to its status. Unknown codes are 500.
func ErrorCodeToHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// JSONError is the body of every non-quota API error.
type JSONError struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error"`
}

// ErrorResponse writes err to the client. Quota rejections keep their flat
// body however deeply they are wrapped. Everything else becomes a JSONError
// whose message never includes the operation or the wrapped cause.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if q, ok := domain.AsQuotaExceeded(err); ok {
		QuotaExceededResponse(w, q)
		return
	}

	var body JSONError
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Error.Code = domain.EINVALID
		body.Error.Message = "Validation failed"
		body.Error.Fields = ve.Fields
	} else {
		body.Error.Code = domain.ErrorCode(err)
		body.Error.Message = domain.ErrorMessage(err)
	}
	status := ErrorCodeToHTTPStatus(body.Error.Code)

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "Request failed",
		"error", err,
		"code", body.Error.Code,
		"op", domain.ErrorOp(err),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
	)

	writeJSON(w, status, body)
}

// QuotaExceededResponse writes the 429 body for a quota rejection.
func QuotaExceededResponse(w http.ResponseWriter, q *domain.QuotaExceededError) {
	writeJSON(w, http.StatusTooManyRequests, q.Body())
}

func NotFoundResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

func UnauthorizedResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
