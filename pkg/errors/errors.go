package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind groups errors by how callers are expected to react to them.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindTransient       Kind = "transient"
	KindQuota           Kind = "quota"
	KindQueued          Kind = "queued"
	KindPermission      Kind = "permission"
	KindUnknown         Kind = "unknown"
	KindInvalidArgument Kind = "invalid_argument"
	KindInvalidQuery    Kind = "invalid_query"
	KindNotFound        Kind = "not_found"
)

// FieldError describes a single violated field rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// AppError provides a structured error that can be rendered to API consumers.
// Message is always safe to show to an end user when Safe is set; Internal
// keeps the original error for diagnostics.
type AppError struct {
	Code       string       `json:"code"`
	Kind       Kind         `json:"kind"`
	Message    string       `json:"message"`
	Fields     []FieldError `json:"fields,omitempty"`
	StatusCode int          `json:"-"`
	Safe       bool         `json:"-"`
	Internal   error        `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// UserMessage returns text that is safe to display, never internal diagnostics.
func (e *AppError) UserMessage() string {
	if e == nil {
		return ""
	}
	if e.Safe && e.Message != "" {
		return e.Message
	}
	return ErrInternalServer.Message
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Kind:       KindPermission,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
		Safe:       true,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Kind:       KindPermission,
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
		Safe:       true,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Kind:       KindNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
		Safe:       true,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Kind:       KindInvalidArgument,
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
		Safe:       true,
	}

	ErrTooManyRequests = &AppError{
		Code:       "RATE_LIMITED",
		Kind:       KindQuota,
		Message:    "Too many requests, please retry shortly",
		StatusCode: http.StatusTooManyRequests,
		Safe:       true,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Kind:       KindUnknown,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
		Safe:       true,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Kind:       KindUnknown,
		Message:    message,
		StatusCode: statusCode,
		Safe:       true,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Kind:       KindUnknown,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Safe:       true,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps request errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Kind:       KindInvalidArgument,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
		Safe:       true,
	}
}

// InvalidArgument reports malformed caller input (a programmer error).
func InvalidArgument(format string, args ...any) *AppError {
	return &AppError{
		Code:       "INVALID_ARGUMENT",
		Kind:       KindInvalidArgument,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: http.StatusBadRequest,
		Safe:       true,
	}
}

// InvalidQuery wraps a failure to translate constraints into a backend query.
func InvalidQuery(err error) *AppError {
	return &AppError{
		Code:       "INVALID_QUERY",
		Kind:       KindInvalidQuery,
		Message:    "The requested query is not supported",
		StatusCode: http.StatusBadRequest,
		Safe:       true,
		Internal:   err,
	}
}

// Validation reports every violated field at once.
func Validation(fields []FieldError) *AppError {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	msg := "Validation failed"
	if len(names) > 0 {
		msg = "Validation failed for: " + strings.Join(names, ", ")
	}
	return &AppError{
		Code:       "VALIDATION_FAILED",
		Kind:       KindValidation,
		Message:    msg,
		Fields:     fields,
		StatusCode: http.StatusUnprocessableEntity,
		Safe:       true,
	}
}

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an AppError of the supplied kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr == nil {
		return false
	}
	return appErr.Kind == kind
}

// IsQueued reports whether a write was deferred to the pending-write queue.
func IsQueued(err error) bool {
	return IsKind(err, KindQueued)
}
