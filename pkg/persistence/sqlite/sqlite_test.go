package sqlite_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
	"github.com/kindred-org/kindred/pkg/persistence/persistencetest"
	"github.com/kindred-org/kindred/pkg/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newMemory(t *testing.T) *sqlite.Persistence {
	t.Helper()

	ctx := context.Background()

	p, err := sqlite.NewPersistence(ctx, testLogger(), "sqlite://:memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, p.Close(ctx))
	})

	return p
}

func TestPersistence_Conformance(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return newMemory(t)
	})
}

func TestNewPersistence_FileDatabaseSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "kindred.db")

	first, err := sqlite.NewPersistence(ctx, testLogger(), "sqlite://"+path)
	require.NoError(t, err)
	assert.Equal(t, path, first.Path())

	next := time.Date(2024, 6, 1, 9, 0, 0, 123456789, time.UTC)
	automation := persistencetest.NewAutomation("Digest", models.TriggerScheduled, func(a *models.Automation) {
		a.NextRun = &next
	})
	require.NoError(t, first.AutomationRepository().Create(ctx, automation))
	require.NoError(t, first.Close(ctx))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := sqlite.NewPersistence(ctx, testLogger(), path)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, second.Close(ctx))
	})

	got, err := second.AutomationRepository().GetByID(ctx, automation.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(next), "timestamps keep nanoseconds")
}

func TestAutomationRepository_CreateDuplicateID(t *testing.T) {
	p := newMemory(t)
	ctx := context.Background()

	first := persistencetest.NewAutomation("Welcome", models.TriggerMemberCreated, func(a *models.Automation) {
		a.ID = "fixed-id"
	})
	require.NoError(t, p.AutomationRepository().Create(ctx, first))

	second := persistencetest.NewAutomation("Welcome again", models.TriggerMemberCreated, func(a *models.Automation) {
		a.ID = "fixed-id"
	})
	err := p.AutomationRepository().Create(ctx, second)
	assert.ErrorIs(t, err, persistence.ErrAutomationExists)
}

func TestAutomationRepository_ListDueAcrossDays(t *testing.T) {
	p := newMemory(t)
	ctx := context.Background()

	// Text timestamps must order chronologically, including across day and month boundaries.
	dates := []time.Time{
		time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 9, 30, 23, 59, 59, 999999999, time.UTC),
		time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC),
	}

	for i := range dates {
		next := dates[i]
		require.NoError(t, p.AutomationRepository().Create(ctx, persistencetest.NewAutomation("Digest", models.TriggerScheduled,
			func(a *models.Automation) { a.NextRun = &next })))
	}

	due, err := p.AutomationRepository().ListDue(ctx, time.Date(2024, 9, 30, 23, 59, 59, 999999999, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.True(t, due[0].NextRun.Equal(dates[2]))
	assert.True(t, due[1].NextRun.Equal(dates[1]))
}
