// Package services holds the definition management operations behind the HTTP API.
package services

import (
	"errors"
	"fmt"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidStatus     = errors.New("invalid automation status")
	ErrInvalidTrigger    = errors.New("invalid trigger type")
	ErrInvalidMode       = errors.New("invalid run mode")
	ErrScheduleRequired  = errors.New("scheduled automations need a schedule")
	ErrScheduleForbidden = errors.New("only scheduled automations take a schedule")
	ErrAutomationNil     = errors.New("automation cannot be nil")

	// Business Logic Conflicts (409 Conflict).
	ErrAlreadyInStatus = errors.New("automation already has this status")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return models.IsValidationError(err) ||
		models.IsConfigurationError(err) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrInvalidMode) ||
		errors.Is(err, ErrScheduleRequired) ||
		errors.Is(err, ErrScheduleForbidden) ||
		errors.Is(err, ErrAutomationNil) ||
		errors.Is(err, models.ErrInvalidSchedule)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyInStatus) ||
		errors.Is(err, persistence.ErrAutomationExists) ||
		errors.Is(err, persistence.ErrOnboardingActive) ||
		errors.Is(err, persistence.ErrRunInProgress)
}

// IsNotFound reports any missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
