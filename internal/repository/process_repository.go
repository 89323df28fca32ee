// Package repository implements the Durable Store (C4): CRUD and the
// mandatory query surface of §4.4 over ProcessRecord, TaskInstance and
// WorkUnit, backed by PostgreSQL via GORM.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/minisource/orchestrator/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound wraps gorm.ErrRecordNotFound so callers don't depend on the
// GORM package directly.
var ErrNotFound = gorm.ErrRecordNotFound

// ProcessRecordRepository handles ProcessRecord persistence.
type ProcessRecordRepository struct {
	db *gorm.DB
}

// NewProcessRecordRepository creates a new process record repository.
func NewProcessRecordRepository(db *gorm.DB) *ProcessRecordRepository {
	return &ProcessRecordRepository{db: db}
}

// Create inserts a new process record.
func (r *ProcessRecordRepository) Create(ctx context.Context, rec *models.ProcessRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// FindByID retrieves a process record by id.
func (r *ProcessRecordRepository) FindByID(ctx context.Context, id string) (*models.ProcessRecord, error) {
	var rec models.ProcessRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Exists reports whether a process record with the given id exists.
func (r *ProcessRecordRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessRecord{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// FindAll returns every process record, newest first.
func (r *ProcessRecordRepository) FindAll(ctx context.Context) ([]models.ProcessRecord, error) {
	var recs []models.ProcessRecord
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&recs).Error
	return recs, err
}

// FindByStatus returns process records with the given engine status.
func (r *ProcessRecordRepository) FindByStatus(ctx context.Context, status models.ProcessStatus) ([]models.ProcessRecord, error) {
	var recs []models.ProcessRecord
	err := r.db.WithContext(ctx).Where("current_status = ?", status).Order("created_at DESC").Find(&recs).Error
	return recs, err
}

// FindScheduled returns process records carrying a non-null schedule.
func (r *ProcessRecordRepository) FindScheduled(ctx context.Context) ([]models.ProcessRecord, error) {
	var recs []models.ProcessRecord
	err := r.db.WithContext(ctx).
		Where("schedule IS NOT NULL AND schedule != ''").
		Find(&recs).Error
	return recs, err
}

// CountByStatus returns the number of process records in each status.
func (r *ProcessRecordRepository) CountByStatus(ctx context.Context) (map[models.ProcessStatus]int64, error) {
	var rows []struct {
		CurrentStatus models.ProcessStatus
		Count         int64
	}
	err := r.db.WithContext(ctx).Model(&models.ProcessRecord{}).
		Select("current_status, COUNT(*) as count").
		Group("current_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[models.ProcessStatus]int64, len(rows))
	for _, row := range rows {
		out[row.CurrentStatus] = row.Count
	}
	return out, nil
}

// Query finds process records matching filter, paginated.
func (r *ProcessRecordRepository) Query(ctx context.Context, filter models.ProcessFilter) (*models.ProcessListResult, error) {
	query := r.db.WithContext(ctx).Model(&models.ProcessRecord{})
	if filter.Status != "" {
		query = query.Where("current_status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var recs []models.ProcessRecord
	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&recs).Error; err != nil {
		return nil, err
	}

	return &models.ProcessListResult{
		Records:    recs,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		HasMore:    int64(page*pageSize) < total,
	}, nil
}

// MarkInProgress transitions a record to IN_PROGRESS, recording
// StartedWhen and TotalTasks (§4.6 step 3).
func (r *ProcessRecordRepository) MarkInProgress(ctx context.Context, id string, totalTasks int, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ProcessRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_status": models.ProcessStatusInProgress,
			"started_when":   now,
			"total_tasks":    totalTasks,
			"updated_at":     now,
		}).Error
}

// TryClaimForStart atomically transitions a record out of PENDING or any
// terminal status (COMPLETED, FAILED, STOPPED) into IN_PROGRESS, seeding
// totalTasks and startedWhen for the new run. The WHERE clause is the
// compare half of a compare-and-swap: a record already IN_PROGRESS never
// matches, so two callers racing to start the same id can't both win.
// Returns false (no error) when no row matched — the caller maps that to
// ErrInvalidState.
func (r *ProcessRecordRepository) TryClaimForStart(ctx context.Context, id string, totalTasks int, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.ProcessRecord{}).
		Where("id = ? AND current_status IN ?", id, []models.ProcessStatus{
			models.ProcessStatusPending,
			models.ProcessStatusCompleted,
			models.ProcessStatusFailed,
			models.ProcessStatusStopped,
		}).
		Updates(map[string]interface{}{
			"current_status":     models.ProcessStatusInProgress,
			"current_task_index": 0,
			"total_tasks":        totalTasks,
			"started_when":       now,
			"completed_when":     nil,
			"failed_when":        nil,
			"stopped_when":       nil,
			"last_error_message": "",
			"updated_at":         now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AdvanceTaskIndex moves the record to the next task index (§4.6 step 6).
// It only updates the record; the state machine enqueues the next unit.
func (r *ProcessRecordRepository) AdvanceTaskIndex(ctx context.Context, id string, nextIndex int, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ProcessRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_task_index": nextIndex,
			"updated_at":         now,
		}).Error
}

// MarkCompleted transitions a record to COMPLETED (§4.6 step 6 else-branch).
func (r *ProcessRecordRepository) MarkCompleted(ctx context.Context, id string, finalTaskIndex int, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ProcessRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_status":      models.ProcessStatusCompleted,
			"current_task_index":  finalTaskIndex,
			"completed_when":      now,
			"updated_at":          now,
		}).Error
}

// MarkFailed transitions a record to FAILED (§4.6 step 7).
func (r *ProcessRecordRepository) MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ProcessRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_status":     models.ProcessStatusFailed,
			"failed_when":        now,
			"last_error_message": errMsg,
			"updated_at":         now,
		}).Error
}

// MarkStopped transitions a record to STOPPED (§4.6 stop semantics).
func (r *ProcessRecordRepository) MarkStopped(ctx context.Context, id string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ProcessRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_status": models.ProcessStatusStopped,
			"stopped_when":   now,
			"updated_at":     now,
		}).Error
}

// ResetForRestart resets engine fields to a fresh PENDING run, used by
// restart (§4.6 restart semantics).
func (r *ProcessRecordRepository) ResetForRestart(ctx context.Context, id string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ProcessRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_status":      models.ProcessStatusPending,
			"current_task_index":  0,
			"started_when":        nil,
			"completed_when":      nil,
			"failed_when":         nil,
			"stopped_when":        nil,
			"last_error_message":  "",
			"updated_at":          now,
		}).Error
}

// Delete removes the process record row only. No foreign key links
// task_instances to process_records, so the orchestrator deletes a
// record's TaskInstances separately (§3.5).
func (r *ProcessRecordRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.ProcessRecord{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err is a not-found error from this store.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
