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

// OnboardingRepository stores one document per onboarding progress record.
type OnboardingRepository struct {
	store *Persistence
}

func (r *OnboardingRepository) Start(_ context.Context, progress *models.OnboardingProgress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, err := r.byMember(progress.MemberID)
	if err != nil {
		return err
	}

	for _, record := range existing {
		if record.Status == models.OnboardingInProgress {
			return fmt.Errorf("member %s: %w", progress.MemberID, persistence.ErrOnboardingActive)
		}
	}

	if progress.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate onboarding ID: %w", err)
		}

		progress.ID = id.String()
	}

	progress.UpdatedAt = time.Now().UTC()

	return write(r.store, onboardingDir, progress.ID, progress)
}

func (r *OnboardingRepository) GetByID(_ context.Context, id string) (*models.OnboardingProgress, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load(id)
}

func (r *OnboardingRepository) LatestByMember(_ context.Context, memberID string) (*models.OnboardingProgress, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	records, err := r.byMember(memberID)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("member %s: %w", memberID, persistence.ErrOnboardingNotFound)
	}

	return records[0], nil
}

func (r *OnboardingRepository) ListByMember(_ context.Context, memberID string) ([]*models.OnboardingProgress, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.byMember(memberID)
}

func (r *OnboardingRepository) Mutate(
	_ context.Context,
	id string,
	fn func(*models.OnboardingProgress) error,
) (*models.OnboardingProgress, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	progress, err := r.load(id)
	if err != nil {
		return nil, err
	}

	if err := fn(progress); err != nil {
		return nil, err
	}

	progress.UpdatedAt = time.Now().UTC()

	if err := write(r.store, onboardingDir, id, progress); err != nil {
		return nil, err
	}

	return progress, nil
}

func (r *OnboardingRepository) load(id string) (*models.OnboardingProgress, error) {
	progress, err := read[models.OnboardingProgress](r.store, onboardingDir, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("progress %s: %w", id, persistence.ErrOnboardingNotFound)
		}

		return nil, fmt.Errorf("failed to read onboarding progress %s: %w", id, err)
	}

	return progress, nil
}

// byMember returns the member's records, newest first.
func (r *OnboardingRepository) byMember(memberID string) ([]*models.OnboardingProgress, error) {
	all, err := list[models.OnboardingProgress](r.store, onboardingDir)
	if err != nil {
		return nil, err
	}

	out := make([]*models.OnboardingProgress, 0)

	for _, record := range all {
		if record.MemberID == memberID {
			out = append(out, record)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}

		return out[i].ID > out[j].ID
	})

	return out, nil
}
