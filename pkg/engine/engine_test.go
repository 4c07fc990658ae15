package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kindred-org/kindred/pkg/delay"
	"github.com/kindred-org/kindred/pkg/eventbus"
	"github.com/kindred-org/kindred/pkg/events"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
	"github.com/kindred-org/kindred/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// scriptedRunner returns canned results keyed by action ID. Unscripted actions succeed.
type scriptedRunner struct {
	mu      sync.Mutex
	results map[string]func(rc *models.RunContext) models.ActionResult
	calls   []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{results: map[string]func(*models.RunContext) models.ActionResult{}}
}

func (s *scriptedRunner) on(id string, fn func(rc *models.RunContext) models.ActionResult) {
	s.results[id] = fn
}

func (s *scriptedRunner) ExecuteAt(_ context.Context, _ int, action models.Action, rc *models.RunContext) models.ActionResult {
	s.mu.Lock()
	s.calls = append(s.calls, action.ID)
	fn := s.results[action.ID]
	s.mu.Unlock()

	if fn != nil {
		return fn(rc)
	}

	return models.ActionResult{OK: true, Output: map[string]any{"id": action.ID}, Duration: time.Millisecond}
}

func (s *scriptedRunner) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.calls...)
}

func failWith(message string) func(*models.RunContext) models.ActionResult {
	return func(*models.RunContext) models.ActionResult {
		return models.ActionResult{Error: message, Err: errors.New(message)}
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

type harness struct {
	engine    *Engine
	store     persistence.Persistence
	runner    *scriptedRunner
	delays    *delay.ManualScheduler
	publisher *recordingPublisher
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		store:     store,
		runner:    newScriptedRunner(),
		delays:    delay.NewManualScheduler(epoch),
		publisher: &recordingPublisher{},
	}

	defaults := []Option{
		WithDelayScheduler(h.delays),
		WithPublisher(h.publisher),
		WithClock(h.delays.Now),
		WithClaimWait(5 * time.Second),
	}

	h.engine = New(slog.Default(), store, h.runner, append(defaults, opts...)...)

	return h
}

func (h *harness) create(t *testing.T, automation *models.Automation) *models.Automation {
	t.Helper()

	if automation.Status == "" {
		automation.Status = models.AutomationStatusActive
	}

	require.NoError(t, h.store.AutomationRepository().Create(context.Background(), automation))

	return automation
}

func (h *harness) logs(t *testing.T, automationID string) []*models.AutomationLog {
	t.Helper()

	entries, err := h.store.LogRepository().List(context.Background(), persistence.LogFilter{AutomationID: &automationID})
	require.NoError(t, err)

	return entries
}

func (h *harness) reload(t *testing.T, id string) *models.Automation {
	t.Helper()

	automation, err := h.store.AutomationRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return automation
}

func actions(ids ...string) []models.Action {
	out := make([]models.Action, len(ids))
	for i, id := range ids {
		out[i] = models.Action{ID: id, Type: models.ActionLog, Config: map[string]any{"message": id}}
	}

	return out
}

func manualAutomation(ids ...string) *models.Automation {
	return &models.Automation{
		Name:        "Welcome flow",
		TriggerType: models.TriggerManual,
		Actions:     actions(ids...),
	}
}

func TestRun_SuccessWritesOneLogAndCountsRun(t *testing.T) {
	h := newHarness(t)
	automation := h.create(t, manualAutomation("greet", "tag"))

	outcome, err := h.engine.Run(context.Background(), automation.ID, &models.RunContext{MemberID: "m-1"})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.ActionsExecuted)
	assert.EqualValues(t, 1, outcome.RunCount)
	assert.Equal(t, []string{"greet", "tag"}, h.runner.executed())

	logs := h.logs(t, automation.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, outcome.LogID, logs[0].ID)
	assert.True(t, logs[0].Success)
	assert.Equal(t, models.TriggerManual, logs[0].TriggerType)
	require.NotNil(t, logs[0].MemberID)
	assert.Equal(t, "m-1", *logs[0].MemberID)

	stored := h.reload(t, automation.ID)
	assert.EqualValues(t, 1, stored.RunCount)
	require.NotNil(t, stored.LastRunAt)
	assert.True(t, stored.LastRunAt.Equal(epoch))
	assert.Nil(t, stored.RunningUntil)

	require.Len(t, h.publisher.events, 1)
	finished, ok := h.publisher.events[0].(*events.AutomationRunFinished)
	require.True(t, ok)
	assert.True(t, finished.Success)
	assert.Equal(t, outcome.LogID, finished.LogID)
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	automation := h.create(t, manualAutomation("first", "second", "third"))
	h.runner.on("second", failWith("mailbox unavailable"))

	outcome, err := h.engine.Run(context.Background(), automation.ID, nil)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, 2, outcome.ActionsExecuted)
	assert.Equal(t, "mailbox unavailable", outcome.Error)
	require.NotNil(t, outcome.FailedAction)
	assert.Equal(t, 1, *outcome.FailedAction)
	assert.Equal(t, []string{"first", "second"}, h.runner.executed())

	require.Len(t, outcome.Outcomes, 3)
	assert.True(t, outcome.Outcomes[2].Skipped)

	logs := h.logs(t, automation.ID)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	require.NotNil(t, logs[0].Error)
	assert.Equal(t, "mailbox unavailable", *logs[0].Error)

	assert.EqualValues(t, 1, h.reload(t, automation.ID).RunCount, "failed runs still count")
}

func TestRun_ActionContinueOnErrorKeepsRunSuccessful(t *testing.T) {
	h := newHarness(t)
	definition := manualAutomation("first", "optional", "last")
	definition.Actions[1].ContinueOnError = true
	automation := h.create(t, definition)
	h.runner.on("optional", failWith("no task queue"))

	outcome, err := h.engine.Run(context.Background(), automation.ID, nil)
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, 3, outcome.ActionsExecuted)
	assert.Nil(t, outcome.FailedAction)
	assert.False(t, outcome.Outcomes[1].OK)
}

func TestRun_ContinueOnErrorModeRunsEverythingButFails(t *testing.T) {
	h := newHarness(t)
	definition := manualAutomation("first", "broken", "also-broken", "last")
	definition.Mode = models.RunModeContinueOnError
	automation := h.create(t, definition)
	h.runner.on("broken", failWith("first failure"))
	h.runner.on("also-broken", failWith("second failure"))

	outcome, err := h.engine.Run(context.Background(), automation.ID, nil)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, 4, outcome.ActionsExecuted)
	assert.Equal(t, "first failure", outcome.Error)
	require.NotNil(t, outcome.FailedAction)
	assert.Equal(t, 1, *outcome.FailedAction)
}

func TestRun_ContinueOnErrorModeSuspendsAfterFailure(t *testing.T) {
	h := newHarness(t)
	definition := manualAutomation("first", "broken", "later", "last")
	definition.Mode = models.RunModeContinueOnError
	definition.Actions[2].Delay = models.NewDuration(time.Hour)
	automation := h.create(t, definition)
	h.runner.on("broken", failWith("first failure"))

	outcome, err := h.engine.Run(context.Background(), automation.ID, nil)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.True(t, outcome.Suspended)
	assert.Equal(t, 2, outcome.ActionsExecuted)
	assert.Len(t, h.delays.Pending(), 1)

	assert.Empty(t, h.delays.Advance(context.Background(), 2*time.Hour, h.engine.HandleContinuation))
	assert.Equal(t, []string{"first", "broken", "later", "last"}, h.runner.executed())

	logs := h.logs(t, automation.ID)
	require.Len(t, logs, 2)

	var final *models.AutomationLog

	for _, entry := range logs {
		if entry.ContinuationOf != nil {
			final = entry
		}
	}

	require.NotNil(t, final)
	assert.False(t, final.Suspended)
	assert.False(t, final.Success)
	assert.Equal(t, 2, final.ActionsExecuted)
	require.NotNil(t, final.Error)
	assert.Equal(t, "first failure", *final.Error)
}

func TestRun_StepOutputsFlowToLaterActions(t *testing.T) {
	h := newHarness(t)
	automation := h.create(t, manualAutomation("lookup", "use"))

	h.runner.on("lookup", func(*models.RunContext) models.ActionResult {
		return models.ActionResult{OK: true, Output: map[string]any{"task_id": "t-9"}}
	})

	var seen any

	h.runner.on("use", func(rc *models.RunContext) models.ActionResult {
		seen, _ = rc.Lookup("steps.lookup.task_id")

		return models.ActionResult{OK: true}
	})

	_, err := h.engine.Run(context.Background(), automation.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "t-9", seen)
}

func TestRun_RejectsDisabledAutomation(t *testing.T) {
	h := newHarness(t)
	definition := manualAutomation("greet")
	definition.Status = models.AutomationStatusDisabled
	automation := h.create(t, definition)

	_, err := h.engine.Run(context.Background(), automation.ID, nil)
	require.ErrorIs(t, err, ErrAutomationDisabled)

	assert.Empty(t, h.logs(t, automation.ID))
	assert.Empty(t, h.runner.executed())
}

func TestRun_AllowsPausedAutomation(t *testing.T) {
	h := newHarness(t)
	definition := manualAutomation("greet")
	definition.Status = models.AutomationStatusPaused
	automation := h.create(t, definition)

	outcome, err := h.engine.Run(context.Background(), automation.ID, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestRun_UnknownAutomation(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Run(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, persistence.IsAutomationNotFound(err))
}

func TestRun_ConcurrentRunsEachCountOnce(t *testing.T) {
	h := newHarness(t, WithClock(func() time.Time { return time.Now().UTC() }))
	automation := h.create(t, manualAutomation("greet"))

	const runs = 8

	var wg sync.WaitGroup

	errs := make(chan error, runs)

	for range runs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := h.engine.Run(context.Background(), automation.ID, nil)
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.EqualValues(t, runs, h.reload(t, automation.ID).RunCount)
	assert.Len(t, h.logs(t, automation.ID), runs)
}

func TestRun_BusyAutomationWithoutWait(t *testing.T) {
	h := newHarness(t, WithClaimWait(0))
	automation := h.create(t, manualAutomation("greet"))

	_, err := h.store.AutomationRepository().Claim(context.Background(), automation.ID, persistence.ClaimOptions{
		Now:        epoch,
		LeaseUntil: epoch.Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = h.engine.Run(context.Background(), automation.ID, nil)
	require.ErrorIs(t, err, persistence.ErrRunInProgress)
}

func scheduledAutomation(next time.Time, ids ...string) *models.Automation {
	return &models.Automation{
		Name:        "Weekly digest",
		TriggerType: models.TriggerScheduled,
		Actions:     actions(ids...),
		Schedule:    &models.Schedule{Interval: models.NewDuration(time.Hour)},
		NextRun:     &next,
	}
}

func TestRunDue_AdvancesNextRunFromPreviousSlot(t *testing.T) {
	h := newHarness(t)
	automation := h.create(t, scheduledAutomation(epoch, "digest"))

	late := epoch.Add(10 * time.Minute)

	outcome, err := h.engine.RunDue(context.Background(), automation, late)
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	require.NotNil(t, outcome.NextRun)
	assert.True(t, outcome.NextRun.Equal(epoch.Add(time.Hour)), "got %s", outcome.NextRun)

	stored := h.reload(t, automation.ID)
	assert.EqualValues(t, 1, stored.RunCount)
	assert.True(t, stored.NextRun.Equal(epoch.Add(time.Hour)))
	assert.Equal(t, models.TriggerScheduled, h.logs(t, automation.ID)[0].TriggerType)
}

func TestRunDue_StaleSlotConflicts(t *testing.T) {
	h := newHarness(t)
	automation := h.create(t, scheduledAutomation(epoch, "digest"))
	stale := automation.Clone()

	_, err := h.engine.RunDue(context.Background(), automation, epoch)
	require.NoError(t, err)

	_, err = h.engine.RunDue(context.Background(), stale, epoch)
	require.ErrorIs(t, err, persistence.ErrClaimConflict)

	assert.EqualValues(t, 1, h.reload(t, automation.ID).RunCount)
	assert.Len(t, h.logs(t, automation.ID), 1)
}

func TestRunDue_RequiresNextRun(t *testing.T) {
	h := newHarness(t)
	definition := scheduledAutomation(epoch, "digest")
	definition.NextRun = nil
	automation := h.create(t, definition)

	_, err := h.engine.RunDue(context.Background(), automation, epoch)
	require.Error(t, err)
	assert.True(t, models.IsConfigurationError(err))
}

func TestRun_DelayedActionSuspendsAndResumes(t *testing.T) {
	h := newHarness(t)
	definition := manualAutomation("welcome", "follow-up", "tag")
	definition.Actions[1].Delay = models.NewDuration(72 * time.Hour)
	automation := h.create(t, definition)

	outcome, err := h.engine.Run(context.Background(), automation.ID, &models.RunContext{MemberID: "m-1"})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.True(t, outcome.Suspended)
	assert.Equal(t, 1, outcome.ActionsExecuted)
	require.NotNil(t, outcome.ResumeAt)
	assert.True(t, outcome.ResumeAt.Equal(epoch.Add(72*time.Hour)))
	assert.Len(t, h.delays.Pending(), 1)

	assert.Empty(t, h.delays.Advance(context.Background(), 71*time.Hour, h.engine.HandleContinuation))
	assert.Equal(t, []string{"welcome"}, h.runner.executed())

	assert.Empty(t, h.delays.Advance(context.Background(), time.Hour, h.engine.HandleContinuation))
	assert.Equal(t, []string{"welcome", "follow-up", "tag"}, h.runner.executed())

	logs := h.logs(t, automation.ID)
	require.Len(t, logs, 2)

	var first, second *models.AutomationLog

	for _, entry := range logs {
		if entry.ContinuationOf == nil {
			first = entry
		} else {
			second = entry
		}
	}

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.True(t, first.Suspended)
	assert.Equal(t, first.ID, *second.ContinuationOf)
	assert.True(t, second.Success)
	assert.Equal(t, 2, second.ActionsExecuted)
	require.NotNil(t, second.MemberID)
	assert.Equal(t, "m-1", *second.MemberID)

	assert.EqualValues(t, 1, h.reload(t, automation.ID).RunCount, "resuming does not count another run")

	require.Len(t, h.publisher.events, 2)
	_, ok := h.publisher.events[0].(*events.AutomationRunSuspended)
	assert.True(t, ok)
	finished, ok := h.publisher.events[1].(*events.AutomationRunFinished)
	require.True(t, ok)
	assert.Equal(t, first.ID, finished.ContinuationOf)
}

func TestRun_WaitResultSuspendsBeforeNextAction(t *testing.T) {
	h := newHarness(t)
	automation := h.create(t, manualAutomation("wait", "reminder"))

	h.runner.on("wait", func(*models.RunContext) models.ActionResult {
		return models.ActionResult{OK: true, Output: map[string]any{"resume_after": "24h"}, SuspendFor: 24 * time.Hour}
	})

	var seen any

	h.runner.on("reminder", func(rc *models.RunContext) models.ActionResult {
		seen, _ = rc.Lookup("steps.wait.resume_after")

		return models.ActionResult{OK: true}
	})

	outcome, err := h.engine.Run(context.Background(), automation.ID, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Suspended)

	assert.Empty(t, h.delays.Advance(context.Background(), 24*time.Hour, h.engine.HandleContinuation))
	assert.Equal(t, []string{"wait", "reminder"}, h.runner.executed())
	assert.Equal(t, "24h", seen)
}

func TestRun_TrailingWaitDoesNotSuspend(t *testing.T) {
	h := newHarness(t)
	automation := h.create(t, manualAutomation("greet", "wait"))

	h.runner.on("wait", func(*models.RunContext) models.ActionResult {
		return models.ActionResult{OK: true, SuspendFor: time.Hour}
	})

	outcome, err := h.engine.Run(context.Background(), automation.ID, nil)
	require.NoError(t, err)

	assert.False(t, outcome.Suspended)
	assert.True(t, outcome.Success)
	assert.Empty(t, h.delays.Pending())
}

func TestRun_SuspendWithoutSchedulerFails(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	runner := newScriptedRunner()
	e := New(slog.Default(), store, runner, WithClock(func() time.Time { return epoch }))

	definition := manualAutomation("welcome", "later")
	definition.Status = models.AutomationStatusActive
	definition.Actions[1].Delay = models.NewDuration(time.Hour)
	require.NoError(t, store.AutomationRepository().Create(context.Background(), definition))

	outcome, err := e.Run(context.Background(), definition.ID, nil)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.False(t, outcome.Suspended)
	assert.Contains(t, outcome.Error, ErrNoDelayScheduler.Error())
}

func TestHandleContinuation_SkipsDisabledAutomation(t *testing.T) {
	h := newHarness(t)
	definition := manualAutomation("welcome", "later")
	definition.Actions[1].Delay = models.NewDuration(time.Hour)
	automation := h.create(t, definition)

	_, err := h.engine.Run(context.Background(), automation.ID, nil)
	require.NoError(t, err)

	disabled := models.AutomationStatusDisabled
	_, err = h.store.AutomationRepository().Update(context.Background(), automation.ID, models.AutomationPatch{Status: &disabled})
	require.NoError(t, err)

	assert.Empty(t, h.delays.Advance(context.Background(), time.Hour, h.engine.HandleContinuation))
	assert.Equal(t, []string{"welcome"}, h.runner.executed())
	assert.Len(t, h.logs(t, automation.ID), 1)
}

func TestResume_SkipsDeletedAutomationAndMissingAction(t *testing.T) {
	h := newHarness(t)
	automation := h.create(t, manualAutomation("only"))

	_, err := h.engine.Resume(context.Background(), Continuation{AutomationID: automation.ID, StartIndex: 5})
	require.ErrorIs(t, err, ErrContinuationSkipped)

	require.NoError(t, h.store.AutomationRepository().Delete(context.Background(), automation.ID))

	_, err = h.engine.Resume(context.Background(), Continuation{AutomationID: automation.ID, StartIndex: 0})
	require.ErrorIs(t, err, ErrContinuationSkipped)
}
