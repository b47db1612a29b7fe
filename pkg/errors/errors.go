package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error code onto an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrAccessDenied:
		return http.StatusForbidden
	case ErrInvalidState:
		return http.StatusUnprocessableEntity
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns the stable, machine readable name of the code.
func (c ErrorCode) Kind() string {
	switch c {
	case ErrNotFound:
		return "not_found"
	case ErrInvalidInput:
		return "invalid_input"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrAccessDenied:
		return "access_denied"
	case ErrInvalidState:
		return "invalid_state"
	case ErrConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrInvalidInput
	ErrUnauthorized
	ErrAccessDenied
	ErrInvalidState
	ErrConflict
	ErrInternal
)

// Error constructors
func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func InvalidInput(message string, err error) *AppError {
	return &AppError{Code: ErrInvalidInput, Message: message, Err: err}
}

func InvalidState(message string) *AppError {
	return &AppError{Code: ErrInvalidState, Message: message}
}

func AccessDenied(message string) *AppError {
	return &AppError{Code: ErrAccessDenied, Message: message}
}

func Conflict(message string, err error) *AppError {
	return &AppError{Code: ErrConflict, Message: message, Err: err}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// Internal hides err behind a generic message. The cause stays reachable
// through Unwrap for logging.
func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// CodeOf returns the code carried by err, ErrInternal for foreign errors and
// zero for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Recover converts a panic in the deferring function into an Internal error
// assigned to *errp. Use as `defer errors.Recover(&err, log, "op")`.
func Recover(errp *error, log *logger.Logger, op string) {
	p := recover()
	if p == nil {
		return
	}
	cause := fmt.Errorf("panic in %s: %v", op, p)
	if log != nil {
		log.Error(cause, "recovered panic", "operation", op, "stack", string(debug.Stack()))
	}
	*errp = Internal(cause)
}

// Normalize passes AppErrors through and wraps anything else as Internal,
// logging the cause with the operation name.
func Normalize(err error, log *logger.Logger, op string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	if log != nil {
		log.Error(err, "unexpected failure", "operation", op)
	}
	return Internal(err)
}
