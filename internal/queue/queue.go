// Package queue implements the Scheduled Work Queue (C5): the core's
// coordination primitive for safely sharing pending work across multiple
// orchestrator nodes. Every mutating operation is conditioned on the
// row's current version so a lost compare-and-swap never corrupts state;
// callers retry by re-reading, per §4.5.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/minisource/orchestrator/internal/models"
	"github.com/minisource/orchestrator/internal/repository"
)

// ErrLeaseLost is returned when a heartbeat or complete call loses its
// compare-and-swap — another node has already reclaimed or finished the
// unit.
var ErrLeaseLost = errors.New("queue: lease lost, unit reclaimed or already completed")

// ClaimedUnit is a work unit handed to a worker after a successful claim,
// carrying the version the worker must present back on heartbeat/complete.
type ClaimedUnit struct {
	TaskName     string
	TaskInstance string
	ProcessRecordID string
	Payload      []byte
	Version      int64
}

// WorkQueue is the lease-based durable queue atop WorkUnitRepository.
type WorkQueue struct {
	repo *repository.WorkUnitRepository
}

// New creates a work queue backed by repo.
func New(repo *repository.WorkUnitRepository) *WorkQueue {
	return &WorkQueue{repo: repo}
}

// Enqueue inserts or re-fires a work unit at executionTime (§4.5 enqueue).
func (q *WorkQueue) Enqueue(ctx context.Context, taskInstance, processRecordID string, payload []byte, executionTime time.Time) error {
	wu := &models.WorkUnit{
		TaskName:        models.CoreTaskName,
		TaskInstance:    taskInstance,
		ProcessRecordID: processRecordID,
		Payload:         payload,
		ExecutionTime:   executionTime,
	}
	return q.repo.Enqueue(ctx, wu)
}

// ClaimDue atomically claims up to limit due units for owner (§4.5 claimDue).
func (q *WorkQueue) ClaimDue(ctx context.Context, owner string, limit int, now time.Time) ([]ClaimedUnit, error) {
	rows, err := q.repo.ClaimDue(ctx, owner, limit, now)
	if err != nil {
		return nil, err
	}

	claimed := make([]ClaimedUnit, len(rows))
	for i, wu := range rows {
		claimed[i] = ClaimedUnit{
			TaskName:        wu.TaskName,
			TaskInstance:    wu.TaskInstance,
			ProcessRecordID: wu.ProcessRecordID,
			Payload:         wu.Payload,
			Version:         wu.Version,
		}
	}
	return claimed, nil
}

// Heartbeat refreshes the lease on a unit currently owned by owner,
// retrying once against the current version if the first attempt loses
// its compare-and-swap (§4.5 heartbeat).
func (q *WorkQueue) Heartbeat(ctx context.Context, taskInstance, owner string, version int64, now time.Time) (int64, error) {
	ok, err := q.repo.Heartbeat(ctx, models.CoreTaskName, taskInstance, owner, version, now)
	if err != nil {
		return 0, err
	}
	if ok {
		return version + 1, nil
	}

	current, err := q.repo.FindByKey(ctx, models.CoreTaskName, taskInstance)
	if err != nil {
		return 0, ErrLeaseLost
	}
	if current.PickedBy != owner {
		return 0, ErrLeaseLost
	}
	ok, err = q.repo.Heartbeat(ctx, models.CoreTaskName, taskInstance, owner, current.Version, now)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrLeaseLost
	}
	return current.Version + 1, nil
}

// CompleteSuccess acks a unit that ran successfully, deleting its row
// (§4.5 complete, success branch).
func (q *WorkQueue) CompleteSuccess(ctx context.Context, taskInstance, owner string, version int64) error {
	ok, err := q.repo.CompleteSuccess(ctx, models.CoreTaskName, taskInstance, owner, version)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// CompleteFailure acks a failed attempt, clearing picked and pushing
// executionTime forward to nextExecutionTime (§4.5 complete, failure
// branch — nextExecutionTime encodes the caller's bounded backoff).
func (q *WorkQueue) CompleteFailure(ctx context.Context, taskInstance, owner string, version int64, nextExecutionTime, now time.Time) error {
	ok, err := q.repo.CompleteFailure(ctx, models.CoreTaskName, taskInstance, owner, version, nextExecutionTime, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// ReclaimDead unpicks units whose heartbeat is older than now-deadline,
// presuming their owning worker dead (§4.5 reclaimDead).
func (q *WorkQueue) ReclaimDead(ctx context.Context, now time.Time, deadline time.Duration) (int64, error) {
	return q.repo.ReclaimDead(ctx, now.Add(-deadline))
}

// ReclaimOrRemoveAll removes every outstanding work unit for a process
// record, used by stop/delete/restart (§4.6 stop semantics: "removes all
// outstanding work units for this record").
func (q *WorkQueue) ReclaimOrRemoveAll(ctx context.Context, processRecordID string) error {
	return q.repo.DeleteByProcessRecord(ctx, processRecordID)
}
