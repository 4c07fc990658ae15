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

const logColumns = `
			id
		  , automation_id
		  , automation_name
		  , trigger_type
		  , member_id
		  , success
		  , suspended
		  , error
		  , actions_executed
		  , outcomes
		  , continuation_of
		  , duration_ms
		  , created_at`

// LogRepository is the append-only automation_logs table.
type LogRepository struct {
	repository
}

func (r *LogRepository) Append(ctx context.Context, entry *models.AutomationLog) (string, error) {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("failed to generate log ID: %w", err)
		}

		entry.ID = id.String()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	outcomes, err := encodeJSON(entry.Outcomes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal outcomes: %w", err)
	}

	query := `
		INSERT INTO automation_logs (` + logColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(query),
		entry.ID,
		nullString(entry.AutomationID),
		entry.AutomationName,
		string(entry.TriggerType),
		nullString(entry.MemberID),
		entry.Success,
		entry.Suspended,
		nullString(entry.Error),
		entry.ActionsExecuted,
		outcomes,
		nullString(entry.ContinuationOf),
		entry.DurationMS,
		r.dialect.Time(entry.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert automation log: %w", err)
	}

	return entry.ID, nil
}

// List returns matching entries, newest first.
func (r *LogRepository) List(ctx context.Context, filter persistence.LogFilter) ([]*models.AutomationLog, error) {
	where, args := r.where(filter, nil)

	query := "SELECT" + logColumns + "\n\t\tFROM automation_logs" + where +
		"\n\t\tORDER BY created_at DESC, id DESC\n\t\tLIMIT ?"

	args = append(args, filter.NormalizeLimit())

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation logs: %w", err)
	}
	defer r.closeRows(ctx, rows)

	entries := make([]*models.AutomationLog, 0)

	for rows.Next() {
		entry, err := r.scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation log: %w", err)
		}

		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automation logs: %w", err)
	}

	return entries, nil
}

// Stats counts finished runs. Suspended segments are skipped; the segment that
// finishes the run carries its outcome.
func (r *LogRepository) Stats(ctx context.Context, filter persistence.LogFilter) (*models.RunStats, error) {
	suspended := false
	where, args := r.where(filter, &suspended)

	var (
		total     int64
		succeeded sql.NullInt64
	)

	query := `
		SELECT COUNT(*), SUM(CASE WHEN success THEN 1 ELSE 0 END)
		FROM automation_logs` + where

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), args...).Scan(&total, &succeeded)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate automation logs: %w", err)
	}

	stats := &models.RunStats{
		AutomationID: filter.AutomationID,
		TotalRuns:    total,
		Succeeded:    succeeded.Int64,
		Failed:       total - succeeded.Int64,
	}

	stats.ComputeRate()

	if total == 0 {
		return stats, nil
	}

	var (
		lastRunAt time.Time
		lastError sql.NullString
	)

	lastQuery := `
		SELECT created_at, error
		FROM automation_logs` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	err = r.db.QueryRowContext(ctx, r.dialect.Rebind(lastQuery), args...).Scan(&lastRunAt, &lastError)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query last automation run: %w", err)
	}

	if err == nil {
		at := lastRunAt.UTC()
		stats.LastRunAt = &at
		stats.LastError = stringPtr(lastError)
	}

	return stats, nil
}

func (r *LogRepository) where(filter persistence.LogFilter, suspended *bool) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if filter.AutomationID != nil {
		clauses = append(clauses, "automation_id = ?")
		args = append(args, *filter.AutomationID)
	}

	if filter.MemberID != nil {
		clauses = append(clauses, "member_id = ?")
		args = append(args, *filter.MemberID)
	}

	if suspended != nil {
		clauses = append(clauses, "suspended = ?")
		args = append(args, *suspended)
	}

	if len(clauses) == 0 {
		return "", nil
	}

	return "\n\t\tWHERE " + strings.Join(clauses, " AND "), args
}

func (r *LogRepository) scanLog(row scanner) (*models.AutomationLog, error) {
	var (
		entry          models.AutomationLog
		automationID   sql.NullString
		memberID       sql.NullString
		errorMessage   sql.NullString
		continuationOf sql.NullString
		triggerType    string
		outcomes       []byte
	)

	err := row.Scan(
		&entry.ID,
		&automationID,
		&entry.AutomationName,
		&triggerType,
		&memberID,
		&entry.Success,
		&entry.Suspended,
		&errorMessage,
		&entry.ActionsExecuted,
		&outcomes,
		&continuationOf,
		&entry.DurationMS,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.AutomationID = stringPtr(automationID)
	entry.MemberID = stringPtr(memberID)
	entry.Error = stringPtr(errorMessage)
	entry.ContinuationOf = stringPtr(continuationOf)
	entry.TriggerType = models.TriggerType(triggerType)
	entry.CreatedAt = entry.CreatedAt.UTC()

	if err := decodeJSON(outcomes, &entry.Outcomes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcomes: %w", err)
	}

	return &entry, nil
}
