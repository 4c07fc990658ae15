package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
)

const onboardingColumns = `
			id
		  , member_id
		  , status
		  , steps
		  , started_at
		  , completed_at
		  , updated_at`

// OnboardingRepository handles onboarding_progress rows. A partial unique index
// keeps at most one in-progress row per member.
type OnboardingRepository struct {
	repository
}

func (r *OnboardingRepository) Start(ctx context.Context, progress *models.OnboardingProgress) error {
	if progress.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate onboarding ID: %w", err)
		}

		progress.ID = id.String()
	}

	progress.UpdatedAt = time.Now().UTC()

	steps, err := encodeJSON(progress.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal onboarding steps: %w", err)
	}

	query := `
		INSERT INTO onboarding_progress (` + onboardingColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(query),
		progress.ID,
		progress.MemberID,
		string(progress.Status),
		steps,
		r.dialect.Time(progress.StartedAt),
		r.dialect.NullTime(progress.CompletedAt),
		r.dialect.Time(progress.UpdatedAt),
	)
	if err != nil {
		if r.dialect.uniqueViolation(err) {
			return fmt.Errorf("member %s: %w", progress.MemberID, persistence.ErrOnboardingActive)
		}

		return fmt.Errorf("failed to insert onboarding progress: %w", err)
	}

	return nil
}

func (r *OnboardingRepository) GetByID(ctx context.Context, id string) (*models.OnboardingProgress, error) {
	return r.get(ctx, r.db, id, "")
}

func (r *OnboardingRepository) LatestByMember(ctx context.Context, memberID string) (*models.OnboardingProgress, error) {
	query := "SELECT" + onboardingColumns + `
		FROM onboarding_progress
		WHERE member_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1`

	progress, err := r.scanProgress(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), memberID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("member %s: %w", memberID, persistence.ErrOnboardingNotFound)
		}

		return nil, fmt.Errorf("failed to scan onboarding progress: %w", err)
	}

	return progress, nil
}

func (r *OnboardingRepository) ListByMember(ctx context.Context, memberID string) ([]*models.OnboardingProgress, error) {
	query := "SELECT" + onboardingColumns + `
		FROM onboarding_progress
		WHERE member_id = ?
		ORDER BY started_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query onboarding progress: %w", err)
	}
	defer r.closeRows(ctx, rows)

	records := make([]*models.OnboardingProgress, 0)

	for rows.Next() {
		progress, err := r.scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan onboarding progress: %w", err)
		}

		records = append(records, progress)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating onboarding progress: %w", err)
	}

	return records, nil
}

// Mutate reads, changes and writes the record inside one transaction.
func (r *OnboardingRepository) Mutate(
	ctx context.Context,
	id string,
	fn func(*models.OnboardingProgress) error,
) (*models.OnboardingProgress, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(ctx, tx)

	progress, err := r.get(ctx, tx, id, r.dialect.lockSuffix())
	if err != nil {
		return nil, err
	}

	if err := fn(progress); err != nil {
		return nil, err
	}

	progress.UpdatedAt = time.Now().UTC()

	steps, err := encodeJSON(progress.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal onboarding steps: %w", err)
	}

	query := `
		UPDATE onboarding_progress SET
			status = ?
		  , steps = ?
		  , completed_at = ?
		  , updated_at = ?
		WHERE id = ?
	`

	_, err = tx.ExecContext(ctx, r.dialect.Rebind(query),
		string(progress.Status),
		steps,
		r.dialect.NullTime(progress.CompletedAt),
		r.dialect.Time(progress.UpdatedAt),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update onboarding progress %s: %w", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit onboarding progress: %w", err)
	}

	return progress, nil
}

func (r *OnboardingRepository) get(ctx context.Context, q queryer, id, suffix string) (*models.OnboardingProgress, error) {
	query := "SELECT" + onboardingColumns + "\n\t\tFROM onboarding_progress\n\t\tWHERE id = ?" + suffix

	progress, err := r.scanProgress(q.QueryRowContext(ctx, r.dialect.Rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("progress %s: %w", id, persistence.ErrOnboardingNotFound)
		}

		return nil, fmt.Errorf("failed to scan onboarding progress: %w", err)
	}

	return progress, nil
}

func (r *OnboardingRepository) scanProgress(row scanner) (*models.OnboardingProgress, error) {
	var (
		progress    models.OnboardingProgress
		status      string
		steps       []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&progress.ID,
		&progress.MemberID,
		&status,
		&steps,
		&progress.StartedAt,
		&completedAt,
		&progress.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	progress.Status = models.OnboardingStatus(status)
	progress.CompletedAt = timePtr(completedAt)
	progress.StartedAt = progress.StartedAt.UTC()
	progress.UpdatedAt = progress.UpdatedAt.UTC()

	if err := decodeJSON(steps, &progress.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal onboarding steps: %w", err)
	}

	return &progress, nil
}
