// Package persistence provides the storage abstraction for automations, run logs and onboarding progress.
package persistence

import (
	"context"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
)

// Persistence groups the repositories of one storage backend.
type Persistence interface {
	AutomationRepository() AutomationRepository
	LogRepository() LogRepository
	OnboardingRepository() OnboardingRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListAutomationsOptions filters List. Zero values match everything.
type ListAutomationsOptions struct {
	TriggerType models.TriggerType
	Status      models.AutomationStatus
}

// ClaimOptions describes a run lease request.
type ClaimOptions struct {
	Now        time.Time
	LeaseUntil time.Time

	// ExpectedNextRun makes the claim conditional on next_run still holding this
	// value, so two scheduler passes that saw the same due slot cannot both run it.
	ExpectedNextRun *time.Time
}

// ReleaseOptions finishes a run started with Claim.
type ReleaseOptions struct {
	// CountRun increments run_count and sets last_run_at to RanAt.
	CountRun bool
	RanAt    time.Time

	// NextRun replaces next_run when set.
	NextRun *time.Time
}

// AutomationRepository stores automation definitions. Writes are atomic per automation.
type AutomationRepository interface {
	List(ctx context.Context, opts ListAutomationsOptions) ([]*models.Automation, error)
	GetByID(ctx context.Context, id string) (*models.Automation, error)
	Create(ctx context.Context, automation *models.Automation) error
	Update(ctx context.Context, id string, patch models.AutomationPatch) (*models.Automation, error)
	Delete(ctx context.Context, id string) error

	// ListDue returns active scheduled automations with next_run <= now, earliest first.
	ListDue(ctx context.Context, now time.Time) ([]*models.Automation, error)

	// Claim takes the run lease. It fails with ErrRunInProgress while another
	// lease is live and with ErrClaimConflict when ExpectedNextRun no longer matches.
	Claim(ctx context.Context, id string, opts ClaimOptions) (*models.Automation, error)

	// Release clears the lease and records the run statistics in one write.
	Release(ctx context.Context, id string, opts ReleaseOptions) (*models.Automation, error)
}

// LogFilter narrows log queries. A nil AutomationID means every automation.
type LogFilter struct {
	AutomationID *string
	MemberID     *string
	Limit        int
}

// LogRepository is the append-only run log.
type LogRepository interface {
	Append(ctx context.Context, entry *models.AutomationLog) (string, error)
	List(ctx context.Context, filter LogFilter) ([]*models.AutomationLog, error)
	Stats(ctx context.Context, filter LogFilter) (*models.RunStats, error)
}

// OnboardingRepository stores onboarding progress records.
type OnboardingRepository interface {
	// Start inserts a new record and fails with ErrOnboardingActive when the
	// member already has one in progress.
	Start(ctx context.Context, progress *models.OnboardingProgress) error
	GetByID(ctx context.Context, id string) (*models.OnboardingProgress, error)
	LatestByMember(ctx context.Context, memberID string) (*models.OnboardingProgress, error)
	ListByMember(ctx context.Context, memberID string) ([]*models.OnboardingProgress, error)

	// Mutate applies fn to the stored record atomically and persists the result.
	Mutate(ctx context.Context, id string, fn func(*models.OnboardingProgress) error) (*models.OnboardingProgress, error)
}

const DefaultLogLimit = 100

// NormalizeLimit clamps a log query limit.
func (f LogFilter) NormalizeLimit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return DefaultLogLimit
	}

	return f.Limit
}
