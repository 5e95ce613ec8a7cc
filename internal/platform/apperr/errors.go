// Package apperr defines the error taxonomy shared by the access, sharing,
// duplicate and merge services. Callers inspect errors with errors.Is against
// the sentinel kinds and map them to their own transport codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a referenced patient, clinician or share does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the resolved permission is insufficient.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned for duplicate active shares and self-merges.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput is returned for malformed levels, expiries or empty match criteria.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable is returned when the backing store cannot be reached. Always safe to retry.
	ErrUnavailable = errors.New("unavailable")
)

// Error wraps a sentinel kind with a user-facing message.
type Error struct {
	Kind    error
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(ErrNotFound, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newError(ErrForbidden, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newError(ErrConflict, format, args...)
}

func InvalidInput(format string, args ...interface{}) *Error {
	return newError(ErrInvalidInput, format, args...)
}

// Unavailable wraps a store failure. The cause is kept for logging but the
// message stays generic.
func Unavailable(cause error) *Error {
	return &Error{Kind: ErrUnavailable, Message: "backing store unavailable", Err: cause}
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsForbidden(err error) bool    { return errors.Is(err, ErrForbidden) }
func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
func IsUnavailable(err error) bool  { return errors.Is(err, ErrUnavailable) }

// HTTPStatus maps an error to the status code the HTTP adapter returns.
// Unclassified errors are internal errors.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsForbidden(err):
		return http.StatusForbidden
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-visible reason for err. Unclassified errors are
// not echoed back to callers.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Error()
	}
	return "internal server error"
}
