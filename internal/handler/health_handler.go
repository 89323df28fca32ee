package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/minisource/orchestrator/internal/orchestrator"
	"gorm.io/gorm"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db   *gorm.DB
	orch *orchestrator.Orchestrator
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *gorm.DB, orch *orchestrator.Orchestrator) *HealthHandler {
	return &HealthHandler{
		db:   db,
		orch: orch,
	}
}

// Health returns the service health status.
// @Summary Health check
// @Description Check service health
// @Tags health
// @Produce json
// @Success 200 {object} Response
// @Failure 503 {object} Response
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	healthData := map[string]interface{}{
		"status": "healthy",
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ServiceUnavailable(c, "Database connection error")
	}
	if err := sqlDB.Ping(); err != nil {
		return ServiceUnavailable(c, "Database ping failed")
	}
	healthData["database"] = "connected"

	return Success(c, healthData)
}

// Ready returns the service readiness status.
// @Summary Readiness check
// @Description Check if service is ready to accept traffic
// @Tags health
// @Produce json
// @Success 200 {object} Response
// @Failure 503 {object} Response
// @Router /ready [get]
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if !h.orch.IsRunning() {
		return ServiceUnavailable(c, "Orchestrator is not running")
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ServiceUnavailable(c, "Database connection error")
	}
	if err := sqlDB.Ping(); err != nil {
		return ServiceUnavailable(c, "Database ping failed")
	}

	return Success(c, map[string]string{"status": "ready"})
}

// Live returns the liveness status.
// @Summary Liveness check
// @Description Check if service is alive
// @Tags health
// @Produce json
// @Success 200 {object} Response
// @Router /live [get]
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return Success(c, map[string]string{"status": "alive"})
}
