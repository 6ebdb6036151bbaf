package errorhandler

import (
	"context"
	"errors"
	"strings"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
)

// Class is the handling strategy chosen for a failure.
type Class string

const (
	ClassNone       Class = "none"
	ClassTransient  Class = "transient"
	ClassProtocol   Class = "protocol"
	ClassQuota      Class = "quota"
	ClassPermission Class = "permission"
	// ClassRejected covers definite answers from a healthy backend, such as
	// a missing document. They are normalized without the failure log.
	ClassRejected Class = "rejected"
	ClassUnknown  Class = "unknown"
	// ClassNormalized marks errors that are already user-safe AppErrors and
	// pass through untouched.
	ClassNormalized Class = "normalized"
)

// Retryable reports whether the class is retried with backoff.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassProtocol
}

var transientMarkers = []string{
	"timeout",
	"network error",
	"connection failed",
	"unavailable",
}

// protocolMarkers identify transport renegotiation hiccups that clear on
// their own after a short pause.
var protocolMarkers = []string{
	"quic_protocol_error",
	"http2_protocol_error",
	"transport errored",
}

// Classify picks the strategy for err. Checks run in priority order:
// transient, transport protocol, quota, permission, rejected, then unknown.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr != nil && appErr.Kind != apperrors.KindUnknown && appErr.Kind != "" {
		return ClassNormalized
	}

	code := docstore.CodeOf(err)
	msg := strings.ToLower(err.Error())

	if code == docstore.CodeUnavailable || code == docstore.CodeDeadlineExceeded ||
		errors.Is(err, context.DeadlineExceeded) || containsAny(msg, transientMarkers) {
		return ClassTransient
	}
	if containsAny(msg, protocolMarkers) {
		return ClassProtocol
	}
	if code == docstore.CodeResourceExhausted || containsAny(msg, []string{"resource-exhausted", "quota"}) {
		return ClassQuota
	}
	if code == docstore.CodePermissionDenied || code == docstore.CodeUnauthenticated ||
		containsAny(msg, []string{"permission-denied", "unauthenticated"}) {
		return ClassPermission
	}
	switch code {
	case docstore.CodeNotFound, docstore.CodeAlreadyExists, docstore.CodeInvalidArgument:
		return ClassRejected
	}
	return ClassUnknown
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
