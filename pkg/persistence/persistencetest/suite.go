// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one test.
type Factory func(t *testing.T) persistence.Persistence

// Run executes the conformance suite against a backend.
func Run(t *testing.T, newPersistence Factory) {
	t.Helper()

	tests := map[string]func(t *testing.T, p persistence.Persistence){
		"create and get":              testCreateAndGet,
		"get missing":                 testGetMissing,
		"list filters":                testListFilters,
		"update":                      testUpdate,
		"delete detaches logs":        testDeleteDetachesLogs,
		"list due":                    testListDue,
		"claim lease":                 testClaimLease,
		"conditional claim":           testConditionalClaim,
		"release":                     testRelease,
		"concurrent claims":           testConcurrentClaims,
		"logs and stats":              testLogsAndStats,
		"onboarding single active":    testOnboardingSingleActive,
		"onboarding mutate":           testOnboardingMutate,
		"onboarding latest by member": testOnboardingLatest,
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, newPersistence(t))
		})
	}
}

func baseTime() time.Time {
	return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
}

// NewAutomation builds a valid automation for storage tests.
func NewAutomation(name string, trigger models.TriggerType, overrides ...func(*models.Automation)) *models.Automation {
	automation := &models.Automation{
		Name:              name,
		Description:       "test automation",
		TriggerType:       trigger,
		TriggerConditions: map[string]any{"tier": "gold"},
		Actions: []models.Action{
			{ID: "welcome", Type: models.ActionSendEmail, Config: map[string]any{"template": "welcome"}},
			{Type: models.ActionWait, Config: map[string]any{"duration": "1h"}, ContinueOnError: true},
		},
		Status:    models.AutomationStatusActive,
		Mode:      models.RunModeFailFast,
		CreatedBy: "tester",
	}

	if trigger == models.TriggerScheduled {
		next := baseTime()
		automation.TriggerConditions = nil
		automation.Schedule = &models.Schedule{Interval: models.NewDuration(24 * time.Hour)}
		automation.NextRun = &next
	}

	for _, override := range overrides {
		override(automation)
	}

	return automation
}

func create(t *testing.T, p persistence.Persistence, automation *models.Automation) *models.Automation {
	t.Helper()

	err := p.AutomationRepository().Create(context.Background(), automation)
	require.NoError(t, err)
	require.NotEmpty(t, automation.ID)

	return automation
}

func testCreateAndGet(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	created := create(t, p, NewAutomation("Welcome gold members", models.TriggerMemberCreated))

	got, err := p.AutomationRepository().GetByID(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, models.TriggerMemberCreated, got.TriggerType)
	assert.Equal(t, "gold", got.TriggerConditions["tier"])
	require.Len(t, got.Actions, 2)
	assert.Equal(t, models.ActionSendEmail, got.Actions[0].Type)
	assert.Equal(t, "welcome", got.Actions[0].Config["template"])
	assert.True(t, got.Actions[1].ContinueOnError)
	assert.Equal(t, models.AutomationStatusActive, got.Status)
	assert.Equal(t, int64(0), got.RunCount)
	assert.Nil(t, got.NextRun)
	assert.False(t, got.CreatedAt.IsZero())

	scheduled := create(t, p, NewAutomation("Monthly digest", models.TriggerScheduled))

	got, err = p.AutomationRepository().GetByID(ctx, scheduled.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(baseTime()))
	require.NotNil(t, got.Schedule)
	assert.Equal(t, 24*time.Hour, got.Schedule.Interval.Duration())
}

func testGetMissing(t *testing.T, p persistence.Persistence) {
	_, err := p.AutomationRepository().GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.True(t, persistence.IsAutomationNotFound(err))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func testListFilters(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	create(t, p, NewAutomation("Active welcome", models.TriggerMemberCreated))
	create(t, p, NewAutomation("Paused welcome", models.TriggerMemberCreated, func(a *models.Automation) {
		a.Status = models.AutomationStatusPaused
	}))
	create(t, p, NewAutomation("Donation thanks", models.TriggerDonationReceived))

	all, err := p.AutomationRepository().List(ctx, persistence.ListAutomationsOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := p.AutomationRepository().List(ctx, persistence.ListAutomationsOptions{
		TriggerType: models.TriggerMemberCreated,
		Status:      models.AutomationStatusActive,
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Active welcome", active[0].Name)
}

func testUpdate(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	created := create(t, p, NewAutomation("Welcome", models.TriggerMemberCreated))

	name := "Welcome v2"
	status := models.AutomationStatusPaused

	updated, err := p.AutomationRepository().Update(ctx, created.ID, models.AutomationPatch{
		Name:    &name,
		Status:  &status,
		Actions: []models.Action{{Type: models.ActionLog, Config: map[string]any{"message": "hi"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Welcome v2", updated.Name)
	assert.Equal(t, models.AutomationStatusPaused, updated.Status)

	got, err := p.AutomationRepository().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome v2", got.Name)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, models.ActionLog, got.Actions[0].Type)
	assert.Equal(t, "test automation", got.Description)

	_, err = p.AutomationRepository().Update(ctx, "00000000-0000-0000-0000-000000000001", models.AutomationPatch{Name: &name})
	assert.True(t, persistence.IsAutomationNotFound(err))
}

func testDeleteDetachesLogs(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	created := create(t, p, NewAutomation("Welcome", models.TriggerMemberCreated))

	_, err := p.LogRepository().Append(ctx, &models.AutomationLog{
		AutomationID:    &created.ID,
		AutomationName:  created.Name,
		TriggerType:     created.TriggerType,
		Success:         true,
		ActionsExecuted: 1,
		CreatedAt:       baseTime(),
	})
	require.NoError(t, err)

	err = p.AutomationRepository().Delete(ctx, created.ID)
	require.NoError(t, err)

	_, err = p.AutomationRepository().GetByID(ctx, created.ID)
	assert.True(t, persistence.IsAutomationNotFound(err))

	logs, err := p.LogRepository().List(ctx, persistence.LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].AutomationID)
	assert.Equal(t, "Welcome", logs[0].AutomationName)

	err = p.AutomationRepository().Delete(ctx, created.ID)
	assert.True(t, persistence.IsAutomationNotFound(err))
}

func testListDue(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	now := baseTime()

	at := func(d time.Duration) func(*models.Automation) {
		return func(a *models.Automation) {
			next := now.Add(d)
			a.NextRun = &next
		}
	}

	late := create(t, p, NewAutomation("Late", models.TriggerScheduled, at(-2*time.Hour)))
	onTime := create(t, p, NewAutomation("On time", models.TriggerScheduled, at(0)))
	create(t, p, NewAutomation("Future", models.TriggerScheduled, at(time.Minute)))
	create(t, p, NewAutomation("Paused", models.TriggerScheduled, at(-time.Hour), func(a *models.Automation) {
		a.Status = models.AutomationStatusPaused
	}))
	create(t, p, NewAutomation("Disabled", models.TriggerScheduled, at(-time.Hour), func(a *models.Automation) {
		a.Status = models.AutomationStatusDisabled
	}))
	create(t, p, NewAutomation("Event", models.TriggerMemberCreated))

	due, err := p.AutomationRepository().ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, late.ID, due[0].ID, "earliest next_run first")
	assert.Equal(t, onTime.ID, due[1].ID)
}

func testClaimLease(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.AutomationRepository()
	created := create(t, p, NewAutomation("Welcome", models.TriggerMemberCreated))
	now := baseTime()

	claimed, err := repo.Claim(ctx, created.ID, persistence.ClaimOptions{Now: now, LeaseUntil: now.Add(time.Minute)})
	require.NoError(t, err)
	require.NotNil(t, claimed.RunningUntil)
	assert.True(t, claimed.RunningUntil.Equal(now.Add(time.Minute)))

	_, err = repo.Claim(ctx, created.ID, persistence.ClaimOptions{Now: now.Add(time.Second), LeaseUntil: now.Add(2 * time.Minute)})
	require.ErrorIs(t, err, persistence.ErrRunInProgress)

	// An expired lease belongs to a crashed run and can be taken over.
	_, err = repo.Claim(ctx, created.ID, persistence.ClaimOptions{Now: now.Add(2 * time.Minute), LeaseUntil: now.Add(3 * time.Minute)})
	require.NoError(t, err)

	_, err = repo.Claim(ctx, "00000000-0000-0000-0000-000000000002", persistence.ClaimOptions{Now: now, LeaseUntil: now.Add(time.Minute)})
	assert.True(t, persistence.IsAutomationNotFound(err))
}

func testConditionalClaim(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.AutomationRepository()
	created := create(t, p, NewAutomation("Digest", models.TriggerScheduled))
	now := baseTime().Add(time.Hour)
	expected := baseTime()

	stale := expected.Add(-24 * time.Hour)
	_, err := repo.Claim(ctx, created.ID, persistence.ClaimOptions{Now: now, LeaseUntil: now.Add(time.Minute), ExpectedNextRun: &stale})
	require.ErrorIs(t, err, persistence.ErrClaimConflict)

	claimed, err := repo.Claim(ctx, created.ID, persistence.ClaimOptions{Now: now, LeaseUntil: now.Add(time.Minute), ExpectedNextRun: &expected})
	require.NoError(t, err)
	assert.True(t, claimed.NextRun.Equal(expected))

	_, err = repo.Claim(ctx, created.ID, persistence.ClaimOptions{Now: now, LeaseUntil: now.Add(time.Minute), ExpectedNextRun: &expected})
	require.ErrorIs(t, err, persistence.ErrClaimConflict, "a held lease rejects a second pass over the same slot")
}

func testRelease(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.AutomationRepository()
	created := create(t, p, NewAutomation("Digest", models.TriggerScheduled))
	now := baseTime().Add(3 * time.Hour)

	_, err := repo.Claim(ctx, created.ID, persistence.ClaimOptions{Now: now, LeaseUntil: now.Add(time.Minute)})
	require.NoError(t, err)

	next := baseTime().Add(24 * time.Hour)
	released, err := repo.Release(ctx, created.ID, persistence.ReleaseOptions{CountRun: true, RanAt: now, NextRun: &next})
	require.NoError(t, err)
	assert.Equal(t, int64(1), released.RunCount)
	assert.Nil(t, released.RunningUntil)
	require.NotNil(t, released.LastRunAt)
	assert.True(t, released.LastRunAt.Equal(now))
	assert.True(t, released.NextRun.Equal(next))

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.RunCount)
	assert.Nil(t, got.RunningUntil)
	assert.True(t, got.NextRun.Equal(next))

	released, err = repo.Release(ctx, created.ID, persistence.ReleaseOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), released.RunCount, "a lease-only release does not count a run")
}

func testConcurrentClaims(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.AutomationRepository()
	created := create(t, p, NewAutomation("Digest", models.TriggerScheduled))
	now := baseTime().Add(time.Hour)
	expected := baseTime()

	const workers = 8

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := repo.Claim(ctx, created.ID, persistence.ClaimOptions{
				Now:             now,
				LeaseUntil:      now.Add(time.Minute),
				ExpectedNextRun: &expected,
			})

			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, persistence.ErrClaimConflict):
				rejected.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(workers-1), rejected.Load())
}

func testLogsAndStats(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	logs := p.LogRepository()
	created := create(t, p, NewAutomation("Welcome", models.TriggerMemberCreated))
	other := create(t, p, NewAutomation("Other", models.TriggerMemberCreated))
	memberID := "member-1"
	failure := "action 1 (send_email) failed: smtp down"

	entries := []*models.AutomationLog{
		{AutomationID: &created.ID, Success: true, ActionsExecuted: 2, MemberID: &memberID, CreatedAt: baseTime()},
		{AutomationID: &created.ID, Success: true, Suspended: true, ActionsExecuted: 1, CreatedAt: baseTime().Add(time.Minute)},
		{AutomationID: &created.ID, Success: false, Error: &failure, ActionsExecuted: 2, CreatedAt: baseTime().Add(2 * time.Minute)},
		{AutomationID: &other.ID, Success: true, ActionsExecuted: 1, CreatedAt: baseTime().Add(3 * time.Minute)},
	}

	for _, entry := range entries {
		entry.AutomationName = "x"
		entry.TriggerType = models.TriggerMemberCreated
		entry.Outcomes = []models.ActionOutcome{{Index: 0, Type: "send_email", OK: entry.Success, At: entry.CreatedAt}}

		id, err := logs.Append(ctx, entry)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	listed, err := logs.List(ctx, persistence.LogFilter{AutomationID: &created.ID})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.False(t, listed[0].Success, "newest first")
	require.NotNil(t, listed[0].Error)
	assert.Equal(t, failure, *listed[0].Error)
	require.Len(t, listed[0].Outcomes, 1)
	assert.Equal(t, "send_email", listed[0].Outcomes[0].Type)

	limited, err := logs.List(ctx, persistence.LogFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byMember, err := logs.List(ctx, persistence.LogFilter{MemberID: &memberID})
	require.NoError(t, err)
	assert.Len(t, byMember, 1)

	stats, err := logs.Stats(ctx, persistence.LogFilter{AutomationID: &created.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRuns, "suspended segments are not finished runs")
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.0001)
	require.NotNil(t, stats.LastRunAt)
	assert.True(t, stats.LastRunAt.Equal(baseTime().Add(2*time.Minute)))
	require.NotNil(t, stats.LastError)
	assert.Equal(t, failure, *stats.LastError)

	all, err := logs.Stats(ctx, persistence.LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.TotalRuns)

	missing := "00000000-0000-0000-0000-000000000003"
	empty, err := logs.Stats(ctx, persistence.LogFilter{AutomationID: &missing})
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.TotalRuns)
	assert.Nil(t, empty.LastRunAt)
}

func newProgress(memberID string, startedAt time.Time) *models.OnboardingProgress {
	return &models.OnboardingProgress{
		MemberID:  memberID,
		Status:    models.OnboardingInProgress,
		StartedAt: startedAt,
		Steps: []models.OnboardingStep{
			{
				Name:     "welcome",
				Status:   models.StepPending,
				Critical: true,
				DueAt:    startedAt,
				Action:   models.Action{Type: models.ActionSendEmail, Config: map[string]any{"template": "welcome"}},
			},
			{
				Name:   "week_one",
				Status: models.StepPending,
				Offset: models.Duration(7 * 24 * time.Hour),
				DueAt:  startedAt.Add(7 * 24 * time.Hour),
				Action: models.Action{Type: models.ActionSendEmail, Config: map[string]any{"template": "week-one"}},
			},
		},
	}
}

func testOnboardingSingleActive(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.OnboardingRepository()

	first := newProgress("member-1", baseTime())
	require.NoError(t, repo.Start(ctx, first))
	require.NotEmpty(t, first.ID)

	err := repo.Start(ctx, newProgress("member-1", baseTime().Add(time.Hour)))
	require.ErrorIs(t, err, persistence.ErrOnboardingActive)

	require.NoError(t, repo.Start(ctx, newProgress("member-2", baseTime())), "other members are independent")

	_, err = repo.Mutate(ctx, first.ID, func(progress *models.OnboardingProgress) error {
		progress.Status = models.OnboardingCompleted
		completed := baseTime().Add(time.Hour)
		progress.CompletedAt = &completed

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, repo.Start(ctx, newProgress("member-1", baseTime().Add(2*time.Hour))), "finished records do not block a new one")

	history, err := repo.ListByMember(ctx, "member-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func testOnboardingMutate(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.OnboardingRepository()

	progress := newProgress("member-1", baseTime())
	require.NoError(t, repo.Start(ctx, progress))

	updated, err := repo.Mutate(ctx, progress.ID, func(progress *models.OnboardingProgress) error {
		step := progress.Step("welcome")
		step.Status = models.StepCompleted
		step.UpdatedAt = baseTime()

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, updated.Step("welcome").Status)

	got, err := repo.GetByID(ctx, progress.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, got.Step("welcome").Status)
	assert.Equal(t, models.StepPending, got.Step("week_one").Status)
	assert.Equal(t, 7*24*time.Hour, got.Step("week_one").Offset.Duration())
	assert.Equal(t, models.ActionSendEmail, got.Step("week_one").Action.Type)

	boom := errors.New("boom")
	_, err = repo.Mutate(ctx, progress.ID, func(*models.OnboardingProgress) error { return boom })
	require.ErrorIs(t, err, boom)

	_, err = repo.Mutate(ctx, "00000000-0000-0000-0000-000000000004", func(*models.OnboardingProgress) error { return nil })
	assert.True(t, persistence.IsOnboardingNotFound(err))
}

func testOnboardingLatest(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.OnboardingRepository()

	_, err := repo.LatestByMember(ctx, "nobody")
	require.Error(t, err)
	assert.True(t, persistence.IsOnboardingNotFound(err))

	old := newProgress("member-1", baseTime())
	old.Status = models.OnboardingFailed
	require.NoError(t, repo.Start(ctx, old))

	current := newProgress("member-1", baseTime().Add(time.Hour))
	require.NoError(t, repo.Start(ctx, current))

	latest, err := repo.LatestByMember(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, current.ID, latest.ID)
	assert.Equal(t, models.OnboardingInProgress, latest.Status)
}
