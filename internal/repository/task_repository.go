package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/minisource/orchestrator/internal/models"
	"gorm.io/gorm"
)

// TaskInstanceRepository handles TaskInstance persistence. It doubles as
// the per-run execution history lookup since this domain has no separate
// rollup table.
type TaskInstanceRepository struct {
	db *gorm.DB
}

// NewTaskInstanceRepository creates a new task instance repository.
func NewTaskInstanceRepository(db *gorm.DB) *TaskInstanceRepository {
	return &TaskInstanceRepository{db: db}
}

// Create inserts a new task instance.
func (r *TaskInstanceRepository) Create(ctx context.Context, ti *models.TaskInstance) error {
	return r.db.WithContext(ctx).Create(ti).Error
}

// FindByID retrieves a task instance by id.
func (r *TaskInstanceRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.TaskInstance, error) {
	var ti models.TaskInstance
	if err := r.db.WithContext(ctx).First(&ti, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ti, nil
}

// FindByProcessRecord returns every task instance for a process record,
// ordered by task index, for getProcessTasks (§6.2).
func (r *TaskInstanceRepository) FindByProcessRecord(ctx context.Context, processRecordID string) ([]models.TaskInstance, error) {
	var list []models.TaskInstance
	err := r.db.WithContext(ctx).
		Where("process_record_id = ?", processRecordID).
		Order("task_index ASC").
		Find(&list).Error
	return list, err
}

// FindByProcessAndIndex returns the task instance at a given index for a
// process record, used to resume or retry a step (§4.6).
func (r *TaskInstanceRepository) FindByProcessAndIndex(ctx context.Context, processRecordID string, taskIndex int) (*models.TaskInstance, error) {
	var ti models.TaskInstance
	err := r.db.WithContext(ctx).
		Where("process_record_id = ? AND task_index = ?", processRecordID, taskIndex).
		First(&ti).Error
	if err != nil {
		return nil, err
	}
	return &ti, nil
}

// MarkInProgress transitions a task instance to in_progress.
func (r *TaskInstanceRepository) MarkInProgress(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.TaskInstance{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.TaskStatusInProgress,
			"started_at": now,
			"updated_at": now,
		}).Error
}

// MarkCompleted records a successful execution result.
func (r *TaskInstanceRepository) MarkCompleted(ctx context.Context, id uuid.UUID, exitCode int, output string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.TaskInstance{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.TaskStatusCompleted,
			"exit_code":    exitCode,
			"output":       output,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

// MarkFailed records a failed execution attempt, setting retry_count to
// the given value (§4.6 retry-or-fail).
func (r *TaskInstanceRepository) MarkFailed(ctx context.Context, id uuid.UUID, exitCode int, output string, errMsg string, retryCount int, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.TaskInstance{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.TaskStatusFailed,
			"exit_code":     exitCode,
			"output":        output,
			"error_message": errMsg,
			"retry_count":   retryCount,
			"completed_at":  now,
			"updated_at":    now,
		}).Error
}

// ResetForRetry flips a failed task instance back to pending ahead of a
// retry attempt.
func (r *TaskInstanceRepository) ResetForRetry(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.TaskInstance{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.TaskStatusPending,
			"updated_at": now,
		}).Error
}

// DeleteByProcessRecord removes every task instance belonging to a
// process record, used by restart and delete (AutoMigrate creates no
// foreign key that would cascade this).
func (r *TaskInstanceRepository) DeleteByProcessRecord(ctx context.Context, processRecordID string) error {
	return r.db.WithContext(ctx).Where("process_record_id = ?", processRecordID).Delete(&models.TaskInstance{}).Error
}
