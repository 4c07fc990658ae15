package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/kindred-org/kindred/pkg/metrics"
)

// NewApp mounts the handlers on a fiber app. Metrics may be nil.
func NewApp(handlers *APIHandlers, m *metrics.Metrics) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Kindred API")
	})

	Register(app, handlers)

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	return app
}

// Register adds the API routes to router.
func Register(router fiber.Router, handlers *APIHandlers) {
	router.Get("/health", handlers.HealthCheck)

	a := router.Group("/automations")
	a.Get("/", handlers.ListAutomations)
	a.Post("/", handlers.CreateAutomation)
	a.Post("/import", handlers.ImportAutomations)
	a.Get("/:id", handlers.GetAutomation)
	a.Patch("/:id", handlers.UpdateAutomation)
	a.Delete("/:id", handlers.DeleteAutomation)
	a.Post("/:id/pause", handlers.PauseAutomation)
	a.Post("/:id/resume", handlers.ResumeAutomation)
	a.Post("/:id/disable", handlers.DisableAutomation)
	a.Post("/:id/run", handlers.RunAutomation)
	a.Get("/:id/logs", handlers.ListLogs)
	a.Get("/:id/stats", handlers.AutomationStats)

	router.Get("/stats", handlers.Stats)
	router.Post("/events", handlers.DispatchEvent)
	router.Post("/scheduler/process-due", handlers.ProcessDue)

	o := router.Group("/onboarding")
	o.Post("/", handlers.StartOnboarding)
	o.Get("/:memberId", handlers.GetOnboarding)

	router.Get("/external-workflows/:token", handlers.GetExternalWorkflow)
}
