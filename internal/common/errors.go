package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures so callers can decide whether to retry, fix input or give up.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalidInput Kind = "invalid_input"
	KindTransient    Kind = "transient"
	KindInternal     Kind = "internal"
)

// HTTPStatus maps the kind onto the response status used by the API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AppError represents an error with an attached kind, machine code and optional details.
type AppError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
	Details any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithDetails attaches structured details to the error and returns it.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewAppError constructs an AppError.
func NewAppError(kind Kind, code, message string, err error) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Err: err}
}

func NotFound(code, message string) *AppError {
	return NewAppError(KindNotFound, code, message, nil)
}

func Conflict(code, message string) *AppError {
	return NewAppError(KindConflict, code, message, nil)
}

func InvalidInput(code, message string) *AppError {
	return NewAppError(KindInvalidInput, code, message, nil)
}

func Transient(message string, err error) *AppError {
	return NewAppError(KindTransient, "TRANSIENT", message, err)
}

func Internal(message string, err error) *AppError {
	return NewAppError(KindInternal, "INTERNAL", message, err)
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// AsAppError returns the AppError in the chain, wrapping unknown errors as internal.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var target *AppError
	if errors.As(err, &target) {
		return target
	}
	return Internal("internal error", err)
}

// KindOf reports the kind of err, or KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsAppError(err).Kind
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
