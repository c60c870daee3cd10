// Package faults defines the error taxonomy shared by the marketplace engine.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an engine error so callers can decide whether a retry
// makes sense without parsing messages.
type Kind int

const (
	// KindValidation marks malformed input. Retry with corrected input.
	KindValidation Kind = iota + 1
	// KindNotFound marks an unknown entity id.
	KindNotFound
	// KindInvalidState marks an operation that is not legal for the
	// entity's current status. Never retried automatically.
	KindInvalidState
	// KindPermission marks a requester that does not own the entity.
	KindPermission
	// KindConflict marks a lost concurrency race. No partial state was
	// committed, so an immediate retry is safe.
	KindConflict
	// KindTimeout marks a bounded lock wait that expired. Retry with backoff.
	KindTimeout
)

// Error is a classified engine error.
type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// InvalidState builds a KindInvalidState error.
func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

// Permission builds a KindPermission error.
func Permission(format string, args ...any) *Error {
	return New(KindPermission, format, args...)
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// Timeout builds a KindTimeout error.
func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}

// KindOf returns the classification of err, or 0 when err carries none.
// Infrastructure failures (database down, transport gone) are deliberately
// unclassified so the fallback layer can tell them apart from domain errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return 0
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindPermission:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
