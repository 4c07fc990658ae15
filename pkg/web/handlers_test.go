package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/kindred-org/kindred/pkg/dispatcher"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/onboarding"
	"github.com/kindred-org/kindred/pkg/persistence"
	"github.com/kindred-org/kindred/pkg/scheduler"
	"github.com/kindred-org/kindred/pkg/services"
	"github.com/kindred-org/kindred/pkg/testutil"
	"github.com/kindred-org/kindred/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func setupTestApp(t *testing.T) (*fiber.App, *testutil.Stack) {
	t.Helper()

	stack := testutil.NewStack(t, now)

	workflow := onboarding.New(stack.Logger, stack.Store.OnboardingRepository(), stack.Executor,
		onboarding.WithDelayScheduler(stack.Delays),
		onboarding.WithClock(stack.Delays.Now),
	)
	stack.Mux.Handle(onboarding.StepKind, workflow.HandleStep)

	handlers := web.NewAPIHandlers(web.Dependencies{
		Automations: services.NewAutomation(stack.Logger, stack.Store, stack.Registry, services.WithClock(stack.Delays.Now)),
		Engine:      stack.Engine,
		Dispatcher:  dispatcher.New(stack.Logger, stack.Store.AutomationRepository(), stack.Evaluator, stack.Engine),
		Scheduler:   scheduler.New(stack.Logger, stack.Store.AutomationRepository(), stack.Engine),
		Onboarding:  workflow,
		Workflows:   stack.Collaborators,
		Registry:    stack.Registry,
		Now:         stack.Delays.Now,
	}, validator.New(validator.WithRequiredStructEnabled()))

	return web.NewApp(handlers, stack.Metrics), stack
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))

	return v
}

func seed(t *testing.T, stack *testutil.Stack, overrides ...func(*models.Automation)) *models.Automation {
	t.Helper()

	automation := testutil.CreateTestAutomation(overrides...)
	require.NoError(t, stack.Store.AutomationRepository().Create(context.Background(), automation))

	return automation
}

func TestAPIHandlers_CreateAutomation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedError  string
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name: "successful creation",
			requestBody: web.CreateAutomationRequest{
				Name:              "Welcome gold members",
				TriggerType:       models.TriggerMemberCreated,
				TriggerConditions: map[string]any{"tier": "gold"},
				Actions:           []models.Action{testutil.EmailAction("welcome", "welcome-gold")},
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				automation := decode[models.Automation](t, body)
				assert.NotEmpty(t, automation.ID)
				assert.Equal(t, "Welcome gold members", automation.Name)
				assert.Equal(t, models.AutomationStatusActive, automation.Status)
				assert.Equal(t, models.RunModeFailFast, automation.Mode)
				require.Len(t, automation.Actions, 1)
				assert.Equal(t, models.ActionSendEmail, automation.Actions[0].Type)
			},
		},
		{
			name: "scheduled automation gets its first run",
			requestBody: web.CreateAutomationRequest{
				Name:        "Weekly digest",
				TriggerType: models.TriggerScheduled,
				Schedule:    &models.Schedule{Interval: models.NewDuration(7 * 24 * time.Hour)},
				Actions:     []models.Action{testutil.LogAction("log", "digest")},
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				automation := decode[models.Automation](t, body)
				require.NotNil(t, automation.NextRun)
				assert.Equal(t, now.Add(7*24*time.Hour), automation.NextRun.UTC())
			},
		},
		{
			name: "validation error - missing name",
			requestBody: web.CreateAutomationRequest{
				TriggerType: models.TriggerManual,
				Actions:     []models.Action{testutil.LogAction("log", "hi")},
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Name",
		},
		{
			name: "validation error - no actions",
			requestBody: web.CreateAutomationRequest{
				Name:        "Nothing to do",
				TriggerType: models.TriggerManual,
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Actions",
		},
		{
			name: "validation error - unknown trigger",
			requestBody: web.CreateAutomationRequest{
				Name:        "Bad trigger",
				TriggerType: "member_deleted",
				Actions:     []models.Action{testutil.LogAction("log", "hi")},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - scheduled without schedule",
			requestBody: web.CreateAutomationRequest{
				Name:        "No schedule",
				TriggerType: models.TriggerScheduled,
				Actions:     []models.Action{testutil.LogAction("log", "hi")},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed JSON",
			requestBody:    "{not json",
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid JSON format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			status, body := do(t, app, http.MethodPost, "/automations", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedError != "" {
				assert.Contains(t, string(body), tt.expectedError)
			}

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_AutomationLifecycle(t *testing.T) {
	app, stack := setupTestApp(t)

	automation := seed(t, stack, testutil.WithName("Thank donors"),
		testutil.WithTrigger(models.TriggerDonationReceived, nil))
	seed(t, stack, testutil.WithName("Manual report"))

	status, body := do(t, app, http.MethodGet, "/automations?trigger_type=donation_received", nil)
	require.Equal(t, http.StatusOK, status)

	list := decode[struct {
		Automations []models.Automation `json:"automations"`
		TotalCount  int                 `json:"total_count"`
	}](t, body)
	assert.Equal(t, 1, list.TotalCount)
	require.Len(t, list.Automations, 1)
	assert.Equal(t, automation.ID, list.Automations[0].ID)

	status, body = do(t, app, http.MethodPatch, "/automations/"+automation.ID, map[string]any{"name": "Thank every donor"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "Thank every donor", decode[models.Automation](t, body).Name)

	status, body = do(t, app, http.MethodPost, "/automations/"+automation.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.AutomationStatusPaused, decode[models.Automation](t, body).Status)

	status, _ = do(t, app, http.MethodPost, "/automations/"+automation.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = do(t, app, http.MethodPost, "/automations/"+automation.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.AutomationStatusActive, decode[models.Automation](t, body).Status)

	status, _ = do(t, app, http.MethodDelete, "/automations/"+automation.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = do(t, app, http.MethodGet, "/automations/"+automation.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	problem := decode[map[string]any](t, body)
	assert.Equal(t, "automation_not_found", problem["type"])
	assert.Equal(t, "/automations/"+automation.ID, problem["instance"])
}

func TestAPIHandlers_RunAutomation(t *testing.T) {
	tests := []struct {
		name           string
		automation     func(*models.Automation)
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name:           "successful run",
			automation:     testutil.WithName("Say hello"),
			requestBody:    web.RunContextRequest{MemberID: "member-1"},
			expectedStatus: http.StatusOK,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				outcome := decode[models.RunOutcome](t, body)
				assert.True(t, outcome.Success)
				assert.NotEmpty(t, outcome.LogID)
				assert.Equal(t, 1, outcome.ActionsExecuted)
				assert.Equal(t, int64(1), outcome.RunCount)
			},
		},
		{
			name: "failed action is reported in the outcome",
			automation: testutil.WithActions(models.Action{
				ID: "mystery", Type: models.ActionUnknown, RawType: "send_pigeon",
			}),
			expectedStatus: http.StatusOK,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				outcome := decode[models.RunOutcome](t, body)
				assert.False(t, outcome.Success)
				assert.Contains(t, outcome.Error, "send_pigeon")
				require.NotNil(t, outcome.FailedAction)
				assert.Equal(t, 0, *outcome.FailedAction)
			},
		},
		{
			name:           "disabled automation",
			automation:     testutil.WithStatus(models.AutomationStatusDisabled),
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, stack := setupTestApp(t)
			automation := seed(t, stack, tt.automation)

			status, body := do(t, app, http.MethodPost, "/automations/"+automation.ID+"/run", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}

	t.Run("unknown automation", func(t *testing.T) {
		app, _ := setupTestApp(t)

		status, _ := do(t, app, http.MethodPost, "/automations/missing/run", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestAPIHandlers_LogsAndStats(t *testing.T) {
	app, stack := setupTestApp(t)

	ok := seed(t, stack, testutil.WithName("Works"))
	broken := seed(t, stack, testutil.WithName("Broken"), testutil.WithActions(models.Action{
		ID: "mystery", Type: models.ActionUnknown, RawType: "send_pigeon",
	}))

	for range 2 {
		status, _ := do(t, app, http.MethodPost, "/automations/"+ok.ID+"/run", nil)
		require.Equal(t, http.StatusOK, status)
	}

	status, _ := do(t, app, http.MethodPost, "/automations/"+broken.ID+"/run", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, app, http.MethodGet, "/automations/"+ok.ID+"/logs?limit=1", nil)
	require.Equal(t, http.StatusOK, status)

	logs := decode[struct {
		Logs []models.AutomationLog `json:"logs"`
	}](t, body)
	assert.Len(t, logs.Logs, 1)

	status, _ = do(t, app, http.MethodGet, "/automations/"+ok.ID+"/logs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, app, http.MethodGet, "/automations/"+ok.ID+"/stats", nil)
	require.Equal(t, http.StatusOK, status)

	stats := decode[models.RunStats](t, body)
	assert.Equal(t, int64(2), stats.TotalRuns)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.InDelta(t, 1.0, stats.SuccessRate, 0.001)

	status, body = do(t, app, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, status)

	all := decode[models.RunStats](t, body)
	assert.Equal(t, int64(3), all.TotalRuns)
	assert.Equal(t, int64(1), all.Failed)
	assert.NotNil(t, all.LastRunAt)

	status, _ = do(t, app, http.MethodGet, "/automations/missing/stats", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_DispatchEvent(t *testing.T) {
	app, stack := setupTestApp(t)

	gold := seed(t, stack,
		testutil.WithName("Welcome gold members"),
		testutil.WithTrigger(models.TriggerMemberCreated, map[string]any{"tier": "gold"}),
		testutil.WithActions(testutil.EmailAction("welcome", "welcome-gold")),
	)
	seed(t, stack,
		testutil.WithName("Broken welcome"),
		testutil.WithTrigger(models.TriggerMemberCreated, nil),
		testutil.WithActions(models.Action{ID: "mystery", Type: models.ActionUnknown, RawType: "send_pigeon"}),
	)

	member := testutil.CreateTestMember()

	status, body := do(t, app, http.MethodPost, "/events", web.DispatchRequest{
		TriggerType:       models.TriggerMemberCreated,
		RunContextRequest: web.RunContextRequest{Member: member.Fields()},
	})
	require.Equal(t, http.StatusAccepted, status, string(body))

	result := decode[dispatcher.Result](t, body)
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	messages := stack.Collaborators.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, member.Email, messages[0].Recipient)

	logs, err := stack.Store.LogRepository().List(context.Background(), persistence.LogFilter{AutomationID: &gold.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].MemberID)
	assert.Equal(t, member.ID, *logs[0].MemberID)

	tests := []struct {
		name string
		body any
	}{
		{name: "missing trigger type", body: map[string]any{"member_id": "m-1"}},
		{name: "unknown trigger type", body: map[string]any{"trigger_type": "member_deleted"}},
		{name: "scheduled cannot be dispatched", body: map[string]any{"trigger_type": "scheduled"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := do(t, app, http.MethodPost, "/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
		})
	}
}

func TestAPIHandlers_ProcessDue(t *testing.T) {
	app, stack := setupTestApp(t)

	due := seed(t, stack, testutil.WithName("Hourly sync"), testutil.WithInterval(time.Hour, now.Add(-time.Minute)))
	seed(t, stack, testutil.WithName("Later"), testutil.WithInterval(time.Hour, now.Add(time.Hour)))

	status, body := do(t, app, http.MethodPost, "/scheduler/process-due", web.ProcessDueRequest{})
	require.Equal(t, http.StatusOK, status, string(body))

	summary := decode[scheduler.Summary](t, body)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, due.ID, summary.Results[0].AutomationID)

	later := now.Add(2 * time.Hour)

	status, body = do(t, app, http.MethodPost, "/scheduler/process-due", web.ProcessDueRequest{Now: &later})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, 2, decode[scheduler.Summary](t, body).Processed)
}

func TestAPIHandlers_Onboarding(t *testing.T) {
	app, stack := setupTestApp(t)

	member := testutil.CreateTestMember()

	status, body := do(t, app, http.MethodPost, "/onboarding", web.OnboardingRequest{Member: member})
	require.Equal(t, http.StatusCreated, status, string(body))

	progress := decode[models.OnboardingProgress](t, body)
	assert.Equal(t, models.OnboardingInProgress, progress.Status)
	assert.Equal(t, member.ID, progress.MemberID)
	assert.Equal(t, models.StepCompleted, progress.Step("welcome").Status)
	assert.Equal(t, models.StepPending, progress.Step("follow_up_first_week").Status)
	assert.Len(t, stack.Delays.Pending(), 3)

	status, _ = do(t, app, http.MethodPost, "/onboarding", web.OnboardingRequest{Member: member})
	assert.Equal(t, http.StatusConflict, status)

	stack.Advance(t, 31*24*time.Hour)

	status, body = do(t, app, http.MethodGet, "/onboarding/"+member.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.OnboardingCompleted, decode[models.OnboardingProgress](t, body).Status)

	status, body = do(t, app, http.MethodGet, "/onboarding/"+member.ID+"?history=true", nil)
	require.Equal(t, http.StatusOK, status)

	history := decode[struct {
		Onboarding []models.OnboardingProgress `json:"onboarding"`
	}](t, body)
	assert.Len(t, history.Onboarding, 1)

	status, _ = do(t, app, http.MethodGet, "/onboarding/nobody", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodPost, "/onboarding", map[string]any{"member": map[string]any{"email": "x@example.org"}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ExternalWorkflow(t *testing.T) {
	app, stack := setupTestApp(t)

	token, err := stack.Collaborators.Invoke(context.Background(), "membership-renewal", nil)
	require.NoError(t, err)

	status, body := do(t, app, http.MethodGet, "/external-workflows/"+token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", decode[map[string]any](t, body)["state"])

	status, _ = do(t, app, http.MethodGet, "/external-workflows/unknown", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_ImportAutomations(t *testing.T) {
	app, stack := setupTestApp(t)

	seedFile := `
automations:
  - name: Thank donors
    trigger_type: donation_received
    actions:
      - id: thanks
        type: send_email
        config:
          to: "{{ .member.email }}"
          template: donation-thanks
`

	status, body := do(t, app, http.MethodPost, "/automations/import", seedFile)
	require.Equal(t, http.StatusOK, status, string(body))

	result := decode[services.ImportResult](t, body)
	assert.Len(t, result.Created, 1)

	automations, err := stack.Store.AutomationRepository().List(context.Background(), persistence.ListAutomationsOptions{})
	require.NoError(t, err)
	assert.Len(t, automations, 1)

	status, _ = do(t, app, http.MethodPost, "/automations/import", "automations: [")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_HealthAndMetrics(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)

	health := decode[web.HealthResponse](t, body)
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Checkers, "repository")

	status, body = do(t, app, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "go_goroutines")
}
