package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/minisource/orchestrator/internal/models"
	"github.com/minisource/orchestrator/internal/orchestrator"
	"github.com/minisource/orchestrator/internal/repository"
	"github.com/minisource/orchestrator/internal/service"
)

// ProcessHandler handles process-record HTTP requests.
type ProcessHandler struct {
	processService *service.ProcessService
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(processService *service.ProcessService) *ProcessHandler {
	return &ProcessHandler{
		processService: processService,
	}
}

// Create declares a new process record.
// @Summary Create a process record
// @Description Declare a new process record from a registered process type
// @Tags processes
// @Accept json
// @Produce json
// @Param request body models.CreateProcessRecordRequest true "Process record creation request"
// @Success 201 {object} Response{data=models.ProcessRecord}
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /api/v1/processes [post]
func (h *ProcessHandler) Create(c *fiber.Ctx) error {
	var req models.CreateProcessRecordRequest
	if err := c.BodyParser(&req); err != nil {
		return BadRequest(c, "Invalid request body")
	}

	rec, err := h.processService.Create(c.Context(), req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrDuplicateID) {
			return Conflict(c, err.Error())
		}
		return BadRequest(c, err.Error())
	}

	return Created(c, rec)
}

// Get returns a process record's current engine state.
// @Summary Get process state
// @Description Get a process record's current engine fields
// @Tags processes
// @Produce json
// @Param id path string true "Process record ID"
// @Success 200 {object} Response{data=models.ProcessRecord}
// @Failure 404 {object} Response
// @Router /api/v1/processes/{id} [get]
func (h *ProcessHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")

	rec, err := h.processService.GetState(c.Context(), id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) || repository.IsNotFound(err) {
			return NotFound(c, "Process record not found")
		}
		return InternalError(c, err.Error())
	}

	return Success(c, rec)
}

// GetTasks returns a process record's task instances in ascending task
// index order.
// @Summary Get process tasks
// @Description Get a process record's task instances
// @Tags processes
// @Produce json
// @Param id path string true "Process record ID"
// @Success 200 {object} Response{data=[]models.TaskInstance}
// @Failure 500 {object} Response
// @Router /api/v1/processes/{id}/tasks [get]
func (h *ProcessHandler) GetTasks(c *fiber.Ctx) error {
	id := c.Params("id")

	tasks, err := h.processService.GetTasks(c.Context(), id)
	if err != nil {
		return InternalError(c, err.Error())
	}

	return Success(c, tasks)
}

// List lists process records with optional filtering and pagination.
// @Summary List process records
// @Description List process records with optional filtering
// @Tags processes
// @Produce json
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by type"
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} Response{data=[]models.ProcessRecord}
// @Failure 500 {object} Response
// @Router /api/v1/processes [get]
func (h *ProcessHandler) List(c *fiber.Ctx) error {
	filter := models.ProcessFilter{
		Status:   models.ProcessStatus(c.Query("status")),
		Type:     c.Query("type"),
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 20),
	}

	result, err := h.processService.List(c.Context(), filter)
	if err != nil {
		return InternalError(c, err.Error())
	}

	return SuccessWithMeta(c, result.Records, &Meta{
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalCount: result.TotalCount,
		HasMore:    result.HasMore,
	})
}

// Start enqueues a manual run of a process record.
// @Summary Start a process record
// @Description Start a manual run of a process record from task index 0
// @Tags processes
// @Param id path string true "Process record ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/processes/{id}/start [post]
func (h *ProcessHandler) Start(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.processService.Start(c.Context(), id); err != nil {
		return mapOrchestratorError(c, err)
	}

	return Success(c, map[string]string{"status": "started"})
}

// Stop stops an in-progress process record.
// @Summary Stop a process record
// @Description Stop an in-progress process record
// @Tags processes
// @Param id path string true "Process record ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/processes/{id}/stop [post]
func (h *ProcessHandler) Stop(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.processService.Stop(c.Context(), id); err != nil {
		return mapOrchestratorError(c, err)
	}

	return Success(c, map[string]string{"status": "stopped"})
}

// Restart stops then starts a process record from task index 0.
// @Summary Restart a process record
// @Description Atomic stop followed by start, with a fresh task-instance set
// @Tags processes
// @Param id path string true "Process record ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/processes/{id}/restart [post]
func (h *ProcessHandler) Restart(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.processService.Restart(c.Context(), id); err != nil {
		return mapOrchestratorError(c, err)
	}

	return Success(c, map[string]string{"status": "restarted"})
}

// Delete removes a process record and its task instances.
// @Summary Delete a process record
// @Description Delete a process record and cascade-delete its task instances
// @Tags processes
// @Param id path string true "Process record ID"
// @Success 204 "No Content"
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/processes/{id} [delete]
func (h *ProcessHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.processService.Delete(c.Context(), id); err != nil {
		return mapOrchestratorError(c, err)
	}

	return NoContent(c)
}

// Statistics returns record counts by status plus the scheduled count.
// @Summary Process record statistics
// @Description Get record counts by status and the scheduled-record count
// @Tags processes
// @Produce json
// @Success 200 {object} Response{data=models.Statistics}
// @Failure 500 {object} Response
// @Router /api/v1/processes/stats [get]
func (h *ProcessHandler) Statistics(c *fiber.Ctx) error {
	stats, err := h.processService.Statistics(c.Context())
	if err != nil {
		return InternalError(c, err.Error())
	}

	return Success(c, stats)
}

// GetTaskDetails returns a single task instance by id.
// @Summary Get task instance details
// @Description Get a single task instance by id
// @Tags processes
// @Produce json
// @Param taskId path string true "Task instance ID"
// @Success 200 {object} Response{data=models.TaskInstance}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/tasks/{taskId} [get]
func (h *ProcessHandler) GetTaskDetails(c *fiber.Ctx) error {
	taskID, err := uuid.Parse(c.Params("taskId"))
	if err != nil {
		return BadRequest(c, "Invalid task instance ID")
	}

	task, err := h.processService.GetTaskDetails(c.Context(), taskID)
	if err != nil {
		if repository.IsNotFound(err) {
			return NotFound(c, "Task instance not found")
		}
		return InternalError(c, err.Error())
	}

	return Success(c, task)
}

// mapOrchestratorError translates the typed §7 error kinds into HTTP
// status codes.
func mapOrchestratorError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		return NotFound(c, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidState):
		return Conflict(c, err.Error())
	case errors.Is(err, orchestrator.ErrDuplicateID):
		return Conflict(c, err.Error())
	default:
		return InternalError(c, err.Error())
	}
}
