package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/docreview-api/internal/domain"
)

// ServiceError wraps an infrastructure failure of a service operation.
type ServiceError struct {
	// Operation is the operation that failed (e.g. "start_review", "plan_retry")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err. Domain errors are returned directly so their
// codes stay at the top of the chain.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
