// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable identifier for a domain error.
// Codes are part of the contract with callers and must not change.
type Code string

// Stable domain error codes surfaced to callers.
const (
	CodeRetryNoCache         Code = "RETRY_NO_CACHE"
	CodeRetryNotAllowed      Code = "RETRY_NOT_ALLOWED"
	CodeInvalidTransition    Code = "REVIEW_TARGET_INVALID_TRANSITION"
	CodeAIConfigMissing      Code = "AI_CONFIG_MISSING"
	CodeChecklistEmpty       Code = "CHECKLIST_EMPTY"
	CodeFilesEmpty           Code = "FILES_EMPTY"
	CodeReviewTargetNotFound Code = "REVIEW_TARGET_NOT_FOUND"
	CodeInvalidRetryScope    Code = "INVALID_RETRY_SCOPE"
	CodeInvalidReviewType    Code = "INVALID_REVIEW_TYPE"
	CodeValidation           Code = "VALIDATION_FAILED"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a review target is asked to move
	// to a status that is not reachable from its current status.
	ErrInvalidTransition = errors.New("invalid review target status transition")

	// ErrRetryNoCache is returned when a retry is requested for a review
	// target that has no persisted document cache.
	ErrRetryNoCache = errors.New("no document cache available for retry")

	// ErrRetryNotAllowed is returned when the review target is not in a
	// retryable status.
	ErrRetryNotAllowed = errors.New("review target cannot be retried in its current status")

	// ErrAIConfigMissing is returned when no language-model credential is
	// configured for the requested operation.
	ErrAIConfigMissing = errors.New("language model configuration is missing")

	// ErrChecklistEmpty is returned when a review is requested without any
	// checklist items.
	ErrChecklistEmpty = errors.New("checklist items cannot be empty")

	// ErrFilesEmpty is returned when a fresh review is requested without files.
	ErrFilesEmpty = errors.New("files cannot be empty")

	// ErrReviewTargetNotFound is returned when a review target does not exist.
	ErrReviewTargetNotFound = errors.New("review target not found")
)

// Error is a domain error carrying a stable code, a human readable message
// and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new domain Error.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the domain code carried by err, or the empty code when err
// is not (and does not wrap) a domain Error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// NewValidationError creates a domain Error for an invalid field value.
func NewValidationError(field, message string, err error) *Error {
	if err == nil {
		err = ErrValidation
	}
	return NewError(CodeValidation, field+" "+message, err)
}
