// Package service is the thin validation-and-translation layer between
// the HTTP handlers and the orchestrator's public API: it runs request
// validation before any operation reaches the engine.
package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/minisource/orchestrator/internal/models"
	"github.com/minisource/orchestrator/internal/orchestrator"
)

// ProcessService validates requests and delegates to the orchestrator.
type ProcessService struct {
	orch     *orchestrator.Orchestrator
	validate *validator.Validate
}

// NewProcessService creates a new process service.
func NewProcessService(orch *orchestrator.Orchestrator) *ProcessService {
	return &ProcessService{
		orch:     orch,
		validate: validator.New(),
	}
}

// Create validates and declares a new process record.
func (s *ProcessService) Create(ctx context.Context, req models.CreateProcessRecordRequest) (*models.ProcessRecord, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return s.orch.CreateProcessRecord(ctx, req)
}

// Start starts a manual run of a process record.
func (s *ProcessService) Start(ctx context.Context, id string) error {
	return s.orch.StartProcessRecord(ctx, id)
}

// Stop stops an in-progress process record.
func (s *ProcessService) Stop(ctx context.Context, id string) error {
	return s.orch.StopProcessRecord(ctx, id)
}

// Restart stops then starts a process record from task index 0.
func (s *ProcessService) Restart(ctx context.Context, id string) error {
	return s.orch.RestartProcessRecord(ctx, id)
}

// Delete removes a process record and its task instances.
func (s *ProcessService) Delete(ctx context.Context, id string) error {
	return s.orch.DeleteProcessRecord(ctx, id)
}

// GetState returns a process record's current engine state.
func (s *ProcessService) GetState(ctx context.Context, id string) (*models.ProcessRecord, error) {
	return s.orch.GetProcessState(ctx, id)
}

// GetTasks returns a process record's task instances.
func (s *ProcessService) GetTasks(ctx context.Context, id string) ([]models.TaskInstance, error) {
	return s.orch.GetProcessTasks(ctx, id)
}

// List returns a paginated, filtered view of process records.
func (s *ProcessService) List(ctx context.Context, filter models.ProcessFilter) (*models.ProcessListResult, error) {
	return s.orch.ListAll(ctx, filter)
}

// ListByStatus returns every process record in the given status.
func (s *ProcessService) ListByStatus(ctx context.Context, status models.ProcessStatus) ([]models.ProcessRecord, error) {
	return s.orch.ListByStatus(ctx, status)
}

// Statistics returns record counts by status plus the scheduled count.
func (s *ProcessService) Statistics(ctx context.Context) (*models.Statistics, error) {
	return s.orch.Statistics(ctx)
}

// GetTaskDetails returns a single task instance by id.
func (s *ProcessService) GetTaskDetails(ctx context.Context, taskID uuid.UUID) (*models.TaskInstance, error) {
	return s.orch.GetTaskDetails(ctx, taskID)
}
