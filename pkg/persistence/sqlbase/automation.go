package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
)

const automationColumns = `
			id
		  , name
		  , description
		  , trigger_type
		  , trigger_conditions
		  , actions
		  , status
		  , mode
		  , schedule
		  , next_run
		  , last_run_at
		  , running_until
		  , run_count
		  , created_by
		  , created_at
		  , updated_at`

// AutomationRepository handles automation-related database operations.
type AutomationRepository struct {
	repository
}

func (r *AutomationRepository) List(ctx context.Context, opts persistence.ListAutomationsOptions) ([]*models.Automation, error) {
	var (
		where []string
		args  []any
	)

	if opts.TriggerType != "" {
		where = append(where, "trigger_type = ?")
		args = append(args, string(opts.TriggerType))
	}

	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}

	query := "SELECT" + automationColumns + "\n\t\tFROM automations"
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}

	query += "\n\t\tORDER BY created_at, id"

	return r.query(ctx, query, args...)
}

func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	return r.get(ctx, r.db, "GetByID", id, "")
}

func (r *AutomationRepository) Create(ctx context.Context, automation *models.Automation) error {
	now := time.Now().UTC()

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
	}

	conditions, err := encodeNullJSON(automation.TriggerConditions, automation.TriggerConditions == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger conditions: %w", err)
	}

	actions, err := encodeJSON(automation.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	schedule, err := encodeNullJSON(automation.Schedule, automation.Schedule == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	query := `
		INSERT INTO automations (` + automationColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(query),
		automation.ID,
		automation.Name,
		automation.Description,
		string(automation.TriggerType),
		conditions,
		actions,
		string(automation.Status),
		string(automation.Mode),
		schedule,
		r.dialect.NullTime(automation.NextRun),
		r.dialect.NullTime(automation.LastRunAt),
		r.dialect.NullTime(automation.RunningUntil),
		automation.RunCount,
		automation.CreatedBy,
		r.dialect.Time(automation.CreatedAt),
		r.dialect.Time(automation.UpdatedAt),
	)
	if err != nil {
		if r.dialect.uniqueViolation(err) {
			return persistence.NewAutomationError("Create", automation.ID, persistence.ErrAutomationExists)
		}

		return fmt.Errorf("failed to insert automation: %w", err)
	}

	return nil
}

// Update applies the patch inside a transaction holding the row.
func (r *AutomationRepository) Update(ctx context.Context, id string, patch models.AutomationPatch) (*models.Automation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(ctx, tx)

	existing, err := r.get(ctx, tx, "Update", id, r.dialect.lockSuffix())
	if err != nil {
		return nil, err
	}

	updated := patch.Apply(existing)
	updated.UpdatedAt = time.Now().UTC()

	conditions, err := encodeNullJSON(updated.TriggerConditions, updated.TriggerConditions == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger conditions: %w", err)
	}

	actions, err := encodeJSON(updated.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actions: %w", err)
	}

	schedule, err := encodeNullJSON(updated.Schedule, updated.Schedule == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schedule: %w", err)
	}

	query := `
		UPDATE automations SET
			name = ?
		  , description = ?
		  , trigger_type = ?
		  , trigger_conditions = ?
		  , actions = ?
		  , status = ?
		  , mode = ?
		  , schedule = ?
		  , next_run = ?
		  , updated_at = ?
		WHERE id = ?
	`

	_, err = tx.ExecContext(ctx, r.dialect.Rebind(query),
		updated.Name,
		updated.Description,
		string(updated.TriggerType),
		conditions,
		actions,
		string(updated.Status),
		string(updated.Mode),
		schedule,
		r.dialect.NullTime(updated.NextRun),
		r.dialect.Time(updated.UpdatedAt),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update automation %s: %w", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit automation update: %w", err)
	}

	return updated, nil
}

// Delete removes the definition and detaches its log entries in one transaction.
func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(ctx, tx)

	_, err = tx.ExecContext(ctx, r.dialect.Rebind("UPDATE automation_logs SET automation_id = NULL WHERE automation_id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to detach logs of automation %s: %w", id, err)
	}

	result, err := tx.ExecContext(ctx, r.dialect.Rebind("DELETE FROM automations WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete automation %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewAutomationError("Delete", id, persistence.ErrAutomationNotFound)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit automation delete: %w", err)
	}

	return nil
}

func (r *AutomationRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Automation, error) {
	query := "SELECT" + automationColumns + `
		FROM automations
		WHERE status = ?
		  AND trigger_type = ?
		  AND next_run IS NOT NULL
		  AND next_run <= ?
		ORDER BY next_run, id`

	return r.query(ctx, query,
		string(models.AutomationStatusActive),
		string(models.TriggerScheduled),
		r.dialect.Time(now),
	)
}

// Claim takes the lease with a single conditional UPDATE, so concurrent claimers
// serialise on the row and at most one of them sees an affected row.
func (r *AutomationRepository) Claim(ctx context.Context, id string, opts persistence.ClaimOptions) (*models.Automation, error) {
	query := `
		UPDATE automations SET running_until = ?
		WHERE id = ?
		  AND (running_until IS NULL OR running_until <= ?)`

	args := []any{r.dialect.Time(opts.LeaseUntil), id, r.dialect.Time(opts.Now)}

	if opts.ExpectedNextRun != nil {
		query += "\n\t\t  AND next_run = ?"

		args = append(args, r.dialect.Time(*opts.ExpectedNextRun))
	}

	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to claim automation %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}

		if opts.ExpectedNextRun != nil {
			return nil, persistence.NewAutomationError("Claim", id, persistence.ErrClaimConflict)
		}

		return nil, persistence.NewAutomationError("Claim", id, persistence.ErrRunInProgress)
	}

	return r.GetByID(ctx, id)
}

func (r *AutomationRepository) Release(ctx context.Context, id string, opts persistence.ReleaseOptions) (*models.Automation, error) {
	sets := []string{"running_until = NULL"}
	args := []any{}

	if opts.CountRun {
		sets = append(sets, "run_count = run_count + 1", "last_run_at = ?")
		args = append(args, r.dialect.Time(opts.RanAt))
	}

	if opts.NextRun != nil {
		sets = append(sets, "next_run = ?")
		args = append(args, r.dialect.Time(*opts.NextRun))
	}

	args = append(args, id)

	query := "UPDATE automations SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to release automation %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return nil, persistence.NewAutomationError("Release", id, persistence.ErrAutomationNotFound)
	}

	return r.GetByID(ctx, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *AutomationRepository) get(ctx context.Context, q queryer, op, id, suffix string) (*models.Automation, error) {
	query := "SELECT" + automationColumns + "\n\t\tFROM automations\n\t\tWHERE id = ?" + suffix

	automation, err := r.scanAutomation(q.QueryRowContext(ctx, r.dialect.Rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewAutomationError(op, id, persistence.ErrAutomationNotFound)
		}

		return nil, fmt.Errorf("failed to scan automation: %w", err)
	}

	return automation, nil
}

func (r *AutomationRepository) query(ctx context.Context, query string, args ...any) ([]*models.Automation, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}
	defer r.closeRows(ctx, rows)

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := r.scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

func (r *AutomationRepository) scanAutomation(row scanner) (*models.Automation, error) {
	var (
		automation   models.Automation
		triggerType  string
		status       string
		mode         string
		conditions   []byte
		actions      []byte
		schedule     []byte
		nextRun      sql.NullTime
		lastRunAt    sql.NullTime
		runningUntil sql.NullTime
	)

	err := row.Scan(
		&automation.ID,
		&automation.Name,
		&automation.Description,
		&triggerType,
		&conditions,
		&actions,
		&status,
		&mode,
		&schedule,
		&nextRun,
		&lastRunAt,
		&runningUntil,
		&automation.RunCount,
		&automation.CreatedBy,
		&automation.CreatedAt,
		&automation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	automation.TriggerType = models.TriggerType(triggerType)
	automation.Status = models.AutomationStatus(status)
	automation.Mode = models.RunMode(mode)
	automation.NextRun = timePtr(nextRun)
	automation.LastRunAt = timePtr(lastRunAt)
	automation.RunningUntil = timePtr(runningUntil)
	automation.CreatedAt = automation.CreatedAt.UTC()
	automation.UpdatedAt = automation.UpdatedAt.UTC()

	if err := decodeJSON(conditions, &automation.TriggerConditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger conditions: %w", err)
	}

	if err := decodeJSON(actions, &automation.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	if len(schedule) > 0 && string(schedule) != "null" {
		automation.Schedule = &models.Schedule{}
		if err := decodeJSON(schedule, automation.Schedule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
		}
	}

	return &automation, nil
}
