package repository

import (
	"context"
	"time"

	"github.com/minisource/orchestrator/internal/models"
	"gorm.io/gorm"
)

// WorkUnitRepository is the storage layer under the lease-based queue
// (C5). The claim, heartbeat and complete writes are each an UPDATE or
// DELETE conditioned on the row's version, so a lost race shows up as
// zero rows affected (§4.5). ClaimDue reads the due rows before its
// conditional updates, and Enqueue reads the row at its key before
// inserting or updating it.
type WorkUnitRepository struct {
	db *gorm.DB
}

// NewWorkUnitRepository creates a new work unit repository.
func NewWorkUnitRepository(db *gorm.DB) *WorkUnitRepository {
	return &WorkUnitRepository{db: db}
}

// Enqueue inserts a new work unit, or updates an existing one at the
// same (TaskName, TaskInstance) key to refire at a new execution time —
// a FirstOrCreate with Assign (read, then insert or update), mirroring
// the teacher's scheduled-job re-enqueue.
func (r *WorkUnitRepository) Enqueue(ctx context.Context, wu *models.WorkUnit) error {
	return r.db.WithContext(ctx).
		Where(models.WorkUnit{TaskName: wu.TaskName, TaskInstance: wu.TaskInstance}).
		Assign(map[string]interface{}{
			"process_record_id": wu.ProcessRecordID,
			"payload":           wu.Payload,
			"execution_time":    wu.ExecutionTime,
			"picked":            false,
			"picked_by":         "",
			"version":           gorm.Expr("scheduled_work_units.version + 1"),
		}).
		FirstOrCreate(wu).Error
}

// ClaimDue atomically picks every due, unpicked work unit and marks it
// picked by owner, incrementing its version (§4.5 claimDue). Returns the
// claimed rows so the caller can act on them without a second read.
func (r *WorkUnitRepository) ClaimDue(ctx context.Context, owner string, limit int, now time.Time) ([]models.WorkUnit, error) {
	var due []models.WorkUnit
	err := r.db.WithContext(ctx).
		Where("picked = ? AND execution_time <= ?", false, now).
		Order("execution_time ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]models.WorkUnit, 0, len(due))
	for _, wu := range due {
		result := r.db.WithContext(ctx).Model(&models.WorkUnit{}).
			Where("task_name = ? AND task_instance = ? AND version = ?", wu.TaskName, wu.TaskInstance, wu.Version).
			Updates(map[string]interface{}{
				"picked":         true,
				"picked_by":      owner,
				"last_heartbeat": now,
				"version":        wu.Version + 1,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			// Lost the race to another node; skip.
			continue
		}
		wu.Picked = true
		wu.PickedBy = owner
		wu.LastHeartbeat = now
		wu.Version++
		claimed = append(claimed, wu)
	}
	return claimed, nil
}

// Heartbeat extends a claimed work unit's lease, conditioned on owner and
// version still matching (§4.5 heartbeat). Returns false if the lease was
// lost (reclaimed by another node).
func (r *WorkUnitRepository) Heartbeat(ctx context.Context, taskName, taskInstance, owner string, version int64, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.WorkUnit{}).
		Where("task_name = ? AND task_instance = ? AND picked_by = ? AND version = ?", taskName, taskInstance, owner, version).
		Updates(map[string]interface{}{
			"last_heartbeat": now,
			"version":        version + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CompleteSuccess acks a work unit that ran successfully by deleting its
// row, conditioned on owner and version still matching (§4.5 complete,
// success branch).
func (r *WorkUnitRepository) CompleteSuccess(ctx context.Context, taskName, taskInstance, owner string, version int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("task_name = ? AND task_instance = ? AND picked_by = ? AND version = ?", taskName, taskInstance, owner, version).
		Delete(&models.WorkUnit{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CompleteFailure acks a failed attempt: clears picked, records
// lastFailure, increments consecutiveFailures, and pushes executionTime
// forward to nextExecutionTime (the caller's bounded-backoff computation)
// (§4.5 complete, failure branch).
func (r *WorkUnitRepository) CompleteFailure(ctx context.Context, taskName, taskInstance, owner string, version int64, nextExecutionTime, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.WorkUnit{}).
		Where("task_name = ? AND task_instance = ? AND picked_by = ? AND version = ?", taskName, taskInstance, owner, version).
		Updates(map[string]interface{}{
			"picked":               false,
			"picked_by":            "",
			"last_failure":         now,
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"execution_time":       nextExecutionTime,
			"version":              version + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReclaimDead finds picked work units whose heartbeat is older than
// deadline and unpicks them for redelivery, bumping version so any
// straggling heartbeat from the dead owner loses the compare-and-swap
// (§4.5 reclaimDead).
func (r *WorkUnitRepository) ReclaimDead(ctx context.Context, deadline time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.WorkUnit{}).
		Where("picked = ? AND last_heartbeat < ?", true, deadline).
		Updates(map[string]interface{}{
			"picked":    false,
			"picked_by": "",
			"version":   gorm.Expr("version + 1"),
		})
	return result.RowsAffected, result.Error
}

// DeleteByProcessRecord removes every work unit tied to a process record,
// used when a record is deleted (§3.5).
func (r *WorkUnitRepository) DeleteByProcessRecord(ctx context.Context, processRecordID string) error {
	return r.db.WithContext(ctx).Where("process_record_id = ?", processRecordID).Delete(&models.WorkUnit{}).Error
}

// FindByKey retrieves a single work unit by its composite key.
func (r *WorkUnitRepository) FindByKey(ctx context.Context, taskName, taskInstance string) (*models.WorkUnit, error) {
	var wu models.WorkUnit
	err := r.db.WithContext(ctx).
		Where("task_name = ? AND task_instance = ?", taskName, taskInstance).
		First(&wu).Error
	if err != nil {
		return nil, err
	}
	return &wu, nil
}
