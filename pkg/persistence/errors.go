package persistence

import (
	"errors"
	"fmt"

	"github.com/kindred-org/kindred/pkg/models"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrAutomationNotFound indicates an automation was not found by the given identifier.
	ErrAutomationNotFound = fmt.Errorf("automation %w", models.ErrNotFound)

	// ErrOnboardingNotFound indicates no onboarding progress exists for the given key.
	ErrOnboardingNotFound = fmt.Errorf("onboarding progress %w", models.ErrNotFound)

	// ErrOnboardingActive indicates the member already has onboarding in progress.
	ErrOnboardingActive = errors.New("onboarding already in progress")

	// ErrRunInProgress indicates another run holds the automation's lease.
	ErrRunInProgress = errors.New("automation run already in progress")

	// ErrClaimConflict indicates the due slot was claimed or moved by someone else.
	ErrClaimConflict = errors.New("automation claim conflict")

	// ErrAutomationExists indicates an automation with the same identifier already exists.
	ErrAutomationExists = errors.New("automation already exists")
)

// AutomationError wraps automation storage errors with additional context.
type AutomationError struct {
	Op           string // Operation being performed (e.g., "GetByID", "Claim")
	AutomationID string
	Err          error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("%s operation failed for automation %s: %v", e.Op, e.AutomationID, e.Err)
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for automation errors.
func (e *AutomationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewAutomationError creates a new automation error with context.
func NewAutomationError(op, automationID string, err error) *AutomationError {
	return &AutomationError{
		Op:           op,
		AutomationID: automationID,
		Err:          err,
	}
}

// IsAutomationNotFound checks if an error indicates an automation was not found.
func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

// IsOnboardingNotFound checks if an error indicates onboarding progress was not found.
func IsOnboardingNotFound(err error) bool {
	return errors.Is(err, ErrOnboardingNotFound)
}

// IsClaimRejected reports whether a claim failed because someone else holds or moved the automation.
func IsClaimRejected(err error) bool {
	return errors.Is(err, ErrRunInProgress) || errors.Is(err, ErrClaimConflict)
}
