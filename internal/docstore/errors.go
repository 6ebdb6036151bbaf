package docstore

import (
	"errors"
	"fmt"
)

// Code classifies a store failure the same way across backends.
type Code string

const (
	CodeUnavailable       Code = "unavailable"
	CodeDeadlineExceeded  Code = "deadline-exceeded"
	CodeCancelled         Code = "cancelled"
	CodeResourceExhausted Code = "resource-exhausted"
	CodePermissionDenied  Code = "permission-denied"
	CodeUnauthenticated   Code = "unauthenticated"
	CodeNotFound          Code = "not-found"
	CodeAlreadyExists     Code = "already-exists"
	CodeInvalidArgument   Code = "invalid-argument"
	CodeInternal          Code = "internal"
)

// Error is returned by every Store implementation.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("docstore: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("docstore: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code to an underlying driver error.
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the store code from err, or "" when err did not come
// from a store.
func CodeOf(err error) Code {
	var storeErr *Error
	if errors.As(err, &storeErr) && storeErr != nil {
		return storeErr.Code
	}
	return ""
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}
