// Package domain holds Formwell's core types: plans, usage counters, quota
// errors and the forms they meter.
package domain

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Error codes. Handlers map them to HTTP statuses.
const (
	EINVALID      = "invalid"
	EUNAUTHORIZED = "unauthorized"
	EFORBIDDEN    = "forbidden"
	ENOTFOUND     = "not_found"
	ECONFLICT     = "conflict"
	ETOOLARGE     = "too_large"
	ERATELIMIT    = "rate_limit"
	EINTERNAL     = "internal"
	EQUOTA        = "quota"
)

const internalMessage = "An internal error occurred. Please try again later."

// Error is an application error. Op names the failing operation
// ("quota.reserve") for logs; Message is safe to show a client unless Code
// is EINTERNAL.
type Error struct {
	Code    string
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Errorf(code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

func NotFound(op, resource, id string) *Error {
	return Errorf(ENOTFOUND, op, "%s with ID %q not found", resource, id)
}

func Invalid(op, message string) *Error {
	return &Error{Code: EINVALID, Op: op, Message: message}
}

func Internal(err error, op, message string) *Error {
	return Wrap(err, EINTERNAL, op, message)
}

func RateLimit(op string) *Error {
	return &Error{Code: ERATELIMIT, Op: op, Message: "Too many requests. Please try again later."}
}

// ErrorCode classifies err. Anything unrecognized is EINTERNAL.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if _, ok := AsQuotaExceeded(err); ok {
		return EQUOTA
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return EINVALID
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the client-safe message for err. Internal errors and
// foreign errors get a generic message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if q, ok := AsQuotaExceeded(err); ok {
		return q.Message
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Message()
	}
	var e *Error
	if errors.As(err, &e) && e.Code != EINTERNAL {
		return e.Message
	}
	return internalMessage
}

// ErrorOp returns the outermost operation recorded on err.
func ErrorOp(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// AsQuotaExceeded finds a QuotaExceededError anywhere in err's chain.
func AsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var q *QuotaExceededError
	if errors.As(err, &q) {
		return q, true
	}
	return nil, false
}

// ValidationError carries one message per invalid field.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{Op: op, Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed: %s", e.Op, e.Message())
}

// Add records a field message. The first message for a field wins.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = message
	}
}

// Err returns e, or nil when no field failed.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Message joins the field messages in field-name order.
func (e *ValidationError) Message() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		msgs = append(msgs, e.Fields[field])
	}
	return strings.Join(msgs, "; ")
}
