// Package apperr is the error taxonomy shared by the services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeBusinessRule = "BUSINESS_RULE_VIOLATION"
	CodeInvalidState = "INVALID_STATE"
	CodeIntegrity    = "INTEGRITY_ERROR"
	CodeStorage      = "STORAGE_ERROR"
	CodeConflict     = "CONFLICT"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeInternal     = "INTERNAL_ERROR"
)

// Error carries a machine code and the HTTP status it maps to.
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap attaches the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func New(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status}
}

func Validation(message string) *Error {
	return New(CodeValidation, message, http.StatusBadRequest)
}

// NotFound reports an absent entity, e.g. NotFound("medicine").
func NotFound(resource string) *Error {
	return New(CodeNotFound, resource+" not found", http.StatusNotFound)
}

func NotFoundWithID(resource, id string) *Error {
	return NotFound(resource).WithDetail("id", id)
}

// BusinessRule reports a well-formed request the domain refuses, such as
// insufficient stock or an over-return.
func BusinessRule(message string) *Error {
	return New(CodeBusinessRule, message, http.StatusBadRequest)
}

// InvalidState is a business rule violation on a lifecycle transition.
func InvalidState(message string) *Error {
	return New(CodeInvalidState, message, http.StatusBadRequest)
}

func Integrity(message string) *Error {
	return New(CodeIntegrity, message, http.StatusInternalServerError)
}

// Storage wraps a failure of the underlying store or filesystem.
func Storage(err error) *Error {
	return New(CodeStorage, "storage unavailable", http.StatusInternalServerError).Wrap(err)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message, http.StatusConflict)
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "authentication required"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(message string) *Error {
	if message == "" {
		message = "access denied"
	}
	return New(CodeForbidden, message, http.StatusForbidden)
}

// As extracts an *Error from err. Anything else becomes an internal error.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(CodeInternal, "internal error", http.StatusInternalServerError).Wrap(err)
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}
