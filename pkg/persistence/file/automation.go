package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
)

// AutomationRepository handles automation documents.
type AutomationRepository struct {
	store *Persistence
}

func (r *AutomationRepository) List(_ context.Context, opts persistence.ListAutomationsOptions) ([]*models.Automation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	all, err := list[models.Automation](r.store, automationsDir)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Automation, 0, len(all))

	for _, automation := range all {
		if opts.TriggerType != "" && automation.TriggerType != opts.TriggerType {
			continue
		}

		if opts.Status != "" && automation.Status != opts.Status {
			continue
		}

		filtered = append(filtered, automation)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID < filtered[j].ID
		}

		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	return filtered, nil
}

func (r *AutomationRepository) GetByID(_ context.Context, id string) (*models.Automation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load(id)
}

func (r *AutomationRepository) Create(_ context.Context, automation *models.Automation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
	} else if _, err := r.load(automation.ID); err == nil {
		return persistence.NewAutomationError("Create", automation.ID, persistence.ErrAutomationExists)
	}

	now := time.Now().UTC()
	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	return write(r.store, automationsDir, automation.ID, automation)
}

func (r *AutomationRepository) Update(_ context.Context, id string, patch models.AutomationPatch) (*models.Automation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, err := r.load(id)
	if err != nil {
		return nil, err
	}

	updated := patch.Apply(existing)
	updated.UpdatedAt = time.Now().UTC()

	if err := write(r.store, automationsDir, id, updated); err != nil {
		return nil, err
	}

	return updated, nil
}

// Delete removes the definition and detaches its log entries.
func (r *AutomationRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, err := r.load(id); err != nil {
		return err
	}

	logs, err := list[models.AutomationLog](r.store, logsDir)
	if err != nil {
		return err
	}

	for _, entry := range logs {
		if entry.AutomationID == nil || *entry.AutomationID != id {
			continue
		}

		entry.AutomationID = nil
		if err := write(r.store, logsDir, entry.ID, entry); err != nil {
			return fmt.Errorf("failed to detach log %s: %w", entry.ID, err)
		}
	}

	if err := removeFile(r.store.path(automationsDir, id)); err != nil {
		return fmt.Errorf("failed to delete automation %s: %w", id, err)
	}

	return nil
}

func (r *AutomationRepository) ListDue(_ context.Context, now time.Time) ([]*models.Automation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	all, err := list[models.Automation](r.store, automationsDir)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Automation, 0)

	for _, automation := range all {
		if automation.IsDue(now) {
			due = append(due, automation)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextRun.Before(*due[j].NextRun)
	})

	return due, nil
}

func (r *AutomationRepository) Claim(_ context.Context, id string, opts persistence.ClaimOptions) (*models.Automation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	automation, err := r.load(id)
	if err != nil {
		return nil, err
	}

	if opts.ExpectedNextRun != nil {
		if automation.NextRun == nil || !automation.NextRun.Equal(*opts.ExpectedNextRun) || automation.Leased(opts.Now) {
			return nil, persistence.NewAutomationError("Claim", id, persistence.ErrClaimConflict)
		}
	} else if automation.Leased(opts.Now) {
		return nil, persistence.NewAutomationError("Claim", id, persistence.ErrRunInProgress)
	}

	lease := opts.LeaseUntil.UTC()
	automation.RunningUntil = &lease

	if err := write(r.store, automationsDir, id, automation); err != nil {
		return nil, err
	}

	return automation, nil
}

func (r *AutomationRepository) Release(_ context.Context, id string, opts persistence.ReleaseOptions) (*models.Automation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	automation, err := r.load(id)
	if err != nil {
		return nil, err
	}

	automation.RunningUntil = nil

	if opts.CountRun {
		automation.RunCount++
		ranAt := opts.RanAt.UTC()
		automation.LastRunAt = &ranAt
	}

	if opts.NextRun != nil {
		next := opts.NextRun.UTC()
		automation.NextRun = &next
	}

	if err := write(r.store, automationsDir, id, automation); err != nil {
		return nil, err
	}

	return automation, nil
}

func (r *AutomationRepository) load(id string) (*models.Automation, error) {
	automation, err := read[models.Automation](r.store, automationsDir, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewAutomationError("GetByID", id, persistence.ErrAutomationNotFound)
		}

		return nil, fmt.Errorf("failed to read automation %s: %w", id, err)
	}

	return automation, nil
}
