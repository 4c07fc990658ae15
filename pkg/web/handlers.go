// Package web provides HTTP handlers and REST API endpoints for automations,
// event dispatch, scheduling and onboarding.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/kindred-org/kindred/pkg/dispatcher"
	"github.com/kindred-org/kindred/pkg/engine"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/onboarding"
	"github.com/kindred-org/kindred/pkg/protocol"
	"github.com/kindred-org/kindred/pkg/registry"
	"github.com/kindred-org/kindred/pkg/scheduler"
	"github.com/kindred-org/kindred/pkg/services"
)

// Dependencies are the components the handlers front.
type Dependencies struct {
	Automations *services.Automation
	Engine      *engine.Engine
	Dispatcher  *dispatcher.Dispatcher
	Scheduler   *scheduler.Scheduler
	Onboarding  *onboarding.Workflow
	Plan        onboarding.Config
	Workflows   protocol.WorkflowInvoker
	Registry    *registry.Registry
	Now         func() time.Time
}

type APIHandlers struct {
	automations *services.Automation
	engine      *engine.Engine
	dispatcher  *dispatcher.Dispatcher
	scheduler   *scheduler.Scheduler
	onboarding  *onboarding.Workflow
	plan        onboarding.Config
	workflows   protocol.WorkflowInvoker
	registry    *registry.Registry
	validator   *validator.Validate
	now         func() time.Time
}

func NewAPIHandlers(deps Dependencies, validator *validator.Validate) *APIHandlers {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	plan := deps.Plan
	if len(plan.Steps) == 0 {
		plan = onboarding.DefaultConfig()
	}

	return &APIHandlers{
		automations: deps.Automations,
		engine:      deps.Engine,
		dispatcher:  deps.Dispatcher,
		scheduler:   deps.Scheduler,
		onboarding:  deps.Onboarding,
		plan:        plan,
		workflows:   deps.Workflows,
		registry:    deps.Registry,
		validator:   validator,
		now:         now,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.automations.HealthCheck(c.Context())

	registryCheck := strconv.Itoa(len(h.registry.Actions())) + " action types registered"
	regOk := len(h.registry.Actions()) > 0

	response := HealthResponse{
		Status:  "unhealthy",
		Message: "Kindred API is unhealthy",
		Checkers: map[string]string{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		Timestamp: h.now(),
	}

	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		response.Status = "healthy"
		response.Message = "Kindred API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(response)
}

func (h *APIHandlers) ListAutomations(c fiber.Ctx) error {
	automations, err := h.automations.List(c.Context(), services.ListAutomationsRequest{
		TriggerType: c.Query("trigger_type"),
		Status:      c.Query("status"),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"automations": automations,
		"total_count": len(automations),
	})
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	automation, err := h.automations.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	var req CreateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.automations.Create(c.Context(), req.automation())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateAutomation(c fiber.Ctx) error {
	var patch models.AutomationPatch
	if err := c.Bind().JSON(&patch); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.automations.Update(c.Context(), c.Params("id"), patch)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteAutomation(c fiber.Ctx) error {
	if err := h.automations.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PauseAutomation(c fiber.Ctx) error {
	return h.setStatus(c, h.automations.Pause)
}

func (h *APIHandlers) ResumeAutomation(c fiber.Ctx) error {
	return h.setStatus(c, h.automations.Resume)
}

func (h *APIHandlers) DisableAutomation(c fiber.Ctx) error {
	return h.setStatus(c, h.automations.Disable)
}

func (h *APIHandlers) setStatus(
	c fiber.Ctx,
	change func(ctx context.Context, id string) (*models.Automation, error),
) error {
	automation, err := change(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automation)
}

// ImportAutomations accepts a YAML seed file body.
func (h *APIHandlers) ImportAutomations(c fiber.Ctx) error {
	result, err := h.automations.Import(c.Context(), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

// RunAutomation executes one automation now. A run whose actions failed is
// still a 200; the outcome carries the failure.
func (h *APIHandlers) RunAutomation(c fiber.Ctx) error {
	var req RunContextRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	outcome, err := h.engine.Run(c.Context(), c.Params("id"), req.runContext(h.now()))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(outcome)
}

func (h *APIHandlers) ListLogs(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid limit")
		}

		limit = parsed
	}

	logs, err := h.automations.Logs(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"logs": logs})
}

func (h *APIHandlers) AutomationStats(c fiber.Ctx) error {
	id := c.Params("id")

	return h.stats(c, &id)
}

// Stats aggregates every run, or one automation's with ?automation_id=.
func (h *APIHandlers) Stats(c fiber.Ctx) error {
	var id *string

	if q := c.Query("automation_id"); q != "" {
		id = &q
	}

	return h.stats(c, id)
}

func (h *APIHandlers) stats(c fiber.Ctx, id *string) error {
	stats, err := h.automations.Stats(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

// DispatchEvent fires every matching automation for a domain event. Failures
// of individual automations are reported in the body and never change the status.
func (h *APIHandlers) DispatchEvent(c fiber.Ctx) error {
	var req DispatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.dispatcher.Dispatch(c.Context(), req.TriggerType, req.runContext(h.now()))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}

// ProcessDue runs one scheduler pass.
func (h *APIHandlers) ProcessDue(c fiber.Ctx) error {
	var req ProcessDueRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	now := h.now()
	if req.Now != nil {
		now = req.Now.UTC()
	}

	summary, err := h.scheduler.ProcessDue(c.Context(), now)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) StartOnboarding(c fiber.Ctx) error {
	var req OnboardingRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	plan := h.plan
	if req.Plan != nil {
		plan = *req.Plan
	}

	progress, err := h.onboarding.ExecuteOnboarding(c.Context(), req.Member, plan)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(progress)
}

// GetOnboarding returns the latest onboarding of a member, or all of them with ?history=true.
func (h *APIHandlers) GetOnboarding(c fiber.Ctx) error {
	memberID := c.Params("memberId")

	if c.Query("history") == "true" {
		records, err := h.onboarding.History(c.Context(), memberID)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(fiber.Map{"onboarding": records})
	}

	progress, err := h.onboarding.GetOnboardingProgress(c.Context(), memberID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(progress)
}

func (h *APIHandlers) GetExternalWorkflow(c fiber.Ctx) error {
	status, err := h.workflows.QueryStatus(c.Context(), c.Params("token"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(status)
}
