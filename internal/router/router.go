package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/minisource/orchestrator/internal/handler"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	Process *handler.ProcessHandler
	Health  *handler.HealthHandler
}

// SetupRouter configures the Fiber router. This REST surface is a thin
// consumer of the orchestrator's library API, not core engine scope.
func SetupRouter(app *fiber.App, h *Handlers) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	app.Get("/swagger/*", swagger.HandlerDefault)

	app.Get("/health", h.Health.Health)
	app.Get("/ready", h.Health.Ready)
	app.Get("/live", h.Health.Live)

	v1 := app.Group("/api/v1")

	processes := v1.Group("/processes")
	processes.Get("/stats", h.Process.Statistics)
	processes.Get("/", h.Process.List)
	processes.Post("/", h.Process.Create)
	processes.Get("/:id", h.Process.Get)
	processes.Delete("/:id", h.Process.Delete)
	processes.Get("/:id/tasks", h.Process.GetTasks)
	processes.Post("/:id/start", h.Process.Start)
	processes.Post("/:id/stop", h.Process.Stop)
	processes.Post("/:id/restart", h.Process.Restart)

	tasks := v1.Group("/tasks")
	tasks.Get("/:taskId", h.Process.GetTaskDetails)
}
