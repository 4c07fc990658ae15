package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is the root of every "referenced entity is absent" error.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed definition or request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}

	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// ActionExecutionError reports that one action's side effect failed.
type ActionExecutionError struct {
	ActionType string
	Index      int
	Err        error
}

func (e *ActionExecutionError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("action %s failed: %v", e.ActionType, e.Err)
	}

	return fmt.Sprintf("action %d (%s) failed: %v", e.Index, e.ActionType, e.Err)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a definition the engine refuses to act on,
// like an unknown action type or condition operator.
type ConfigurationError struct {
	Subject string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Subject, e.Reason)
}

func IsValidationError(err error) bool {
	var target *ValidationError

	return errors.As(err, &target)
}

func IsConfigurationError(err error) bool {
	var target *ConfigurationError

	return errors.As(err, &target)
}

func IsActionExecutionError(err error) bool {
	var target *ActionExecutionError

	return errors.As(err, &target)
}
