// Package apperr defines the error taxonomy shared by the live session core and its HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks malformed or missing input. Returned before any state change.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing session, participant or hand raise.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks duplicate joins, duplicate pending raises and similar collisions.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState marks an operation that is illegal for the current lifecycle state or status.
	ErrInvalidState = errors.New("invalid state")
	// ErrPlatform marks a video platform call that failed and blocked the operation.
	ErrPlatform = errors.New("platform error")
)

// Error carries a taxonomy kind, a caller-facing message and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Validation returns an ErrValidation error.
func Validation(format string, args ...any) error {
	return newError(ErrValidation, nil, format, args...)
}

// NotFound returns an ErrNotFound error.
func NotFound(format string, args ...any) error {
	return newError(ErrNotFound, nil, format, args...)
}

// Conflict returns an ErrConflict error.
func Conflict(format string, args ...any) error {
	return newError(ErrConflict, nil, format, args...)
}

// InvalidState returns an ErrInvalidState error.
func InvalidState(format string, args ...any) error {
	return newError(ErrInvalidState, nil, format, args...)
}

// Platform wraps a failed platform call as an ErrPlatform error.
func Platform(cause error, format string, args ...any) error {
	return newError(ErrPlatform, cause, format, args...)
}

// Code returns the wire code for err, or "internal_error" when err is outside the taxonomy.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrPlatform):
		return "platform_error"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrPlatform):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the caller-facing message of a taxonomy error. Errors outside the
// taxonomy are reported generically so driver details do not leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == ErrPlatform && e.Err != nil {
			return e.Error()
		}
		return e.Msg
	}
	return "internal error"
}
