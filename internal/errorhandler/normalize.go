package errorhandler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
)

const genericMessage = "Something went wrong. Please try again."

var friendlyMessages = map[docstore.Code]string{
	docstore.CodeUnavailable:       "The service is temporarily unavailable. Please try again shortly.",
	docstore.CodeDeadlineExceeded:  "The request took too long. Please try again.",
	docstore.CodeCancelled:         "The request was cancelled.",
	docstore.CodeResourceExhausted: "Usage limits were reached. Please try again later.",
	docstore.CodePermissionDenied:  "You do not have permission to perform this action.",
	docstore.CodeUnauthenticated:   "Your session has expired. Please sign in again.",
	docstore.CodeNotFound:          "The requested record no longer exists.",
	docstore.CodeAlreadyExists:     "A record with this identifier already exists.",
	docstore.CodeInvalidArgument:   "The request contains invalid data.",
	docstore.CodeInternal:          "An unexpected server error occurred.",
}

var statusCodes = map[docstore.Code]int{
	docstore.CodeUnavailable:       http.StatusServiceUnavailable,
	docstore.CodeDeadlineExceeded:  http.StatusGatewayTimeout,
	docstore.CodeCancelled:         http.StatusRequestTimeout,
	docstore.CodeResourceExhausted: http.StatusTooManyRequests,
	docstore.CodePermissionDenied:  http.StatusForbidden,
	docstore.CodeUnauthenticated:   http.StatusUnauthorized,
	docstore.CodeNotFound:          http.StatusNotFound,
	docstore.CodeAlreadyExists:     http.StatusConflict,
	docstore.CodeInvalidArgument:   http.StatusBadRequest,
	docstore.CodeInternal:          http.StatusInternalServerError,
}

var classKinds = map[Class]apperrors.Kind{
	ClassTransient:  apperrors.KindTransient,
	ClassProtocol:   apperrors.KindTransient,
	ClassQuota:      apperrors.KindQuota,
	ClassPermission: apperrors.KindPermission,
	ClassRejected:   apperrors.KindInvalidArgument,
	ClassUnknown:    apperrors.KindUnknown,
}

// Normalize converts err into a user-safe AppError that keeps err as its
// internal cause. AppErrors with a known kind are returned unchanged.
func Normalize(err error, class Class) *apperrors.AppError {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if class == ClassNormalized && errors.As(err, &appErr) {
		return appErr
	}

	code := codeFor(err)
	kind, ok := classKinds[class]
	if !ok {
		kind = apperrors.KindUnknown
	}
	if code == docstore.CodeNotFound {
		kind = apperrors.KindNotFound
	}

	message, ok := friendlyMessages[code]
	if !ok {
		message = genericMessage
	}
	status, ok := statusCodes[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	return &apperrors.AppError{
		Code:       errorCode(code),
		Kind:       kind,
		Message:    message,
		StatusCode: status,
		Safe:       true,
		Internal:   err,
	}
}

func codeFor(err error) docstore.Code {
	if code := docstore.CodeOf(err); code != "" {
		return code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return docstore.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return docstore.CodeCancelled
	}
	return ""
}

func errorCode(code docstore.Code) string {
	if code == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(strings.ReplaceAll(string(code), "-", "_"))
}
