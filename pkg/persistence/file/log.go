package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
)

// LogRepository stores one document per log entry. Entries are never rewritten
// except to detach them from a deleted automation.
type LogRepository struct {
	store *Persistence
}

func (r *LogRepository) Append(_ context.Context, entry *models.AutomationLog) (string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

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

	if err := write(r.store, logsDir, entry.ID, entry); err != nil {
		return "", err
	}

	return entry.ID, nil
}

// List returns matching entries, newest first.
func (r *LogRepository) List(_ context.Context, filter persistence.LogFilter) ([]*models.AutomationLog, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	entries, err := r.matching(filter)
	if err != nil {
		return nil, err
	}

	if limit := filter.NormalizeLimit(); len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

// Stats counts finished runs. Suspended segments are skipped; the segment that
// finishes the run carries its outcome.
func (r *LogRepository) Stats(_ context.Context, filter persistence.LogFilter) (*models.RunStats, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	entries, err := r.matching(filter)
	if err != nil {
		return nil, err
	}

	stats := &models.RunStats{AutomationID: filter.AutomationID}

	for _, entry := range entries {
		if entry.Suspended {
			continue
		}

		stats.TotalRuns++

		if entry.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}

		if stats.LastRunAt == nil {
			at := entry.CreatedAt
			stats.LastRunAt = &at
			stats.LastError = entry.Error
		}
	}

	stats.ComputeRate()

	return stats, nil
}

func (r *LogRepository) matching(filter persistence.LogFilter) ([]*models.AutomationLog, error) {
	all, err := list[models.AutomationLog](r.store, logsDir)
	if err != nil {
		return nil, err
	}

	out := make([]*models.AutomationLog, 0, len(all))

	for _, entry := range all {
		if filter.AutomationID != nil && (entry.AutomationID == nil || *entry.AutomationID != *filter.AutomationID) {
			continue
		}

		if filter.MemberID != nil && (entry.MemberID == nil || *entry.MemberID != *filter.MemberID) {
			continue
		}

		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}

		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}
