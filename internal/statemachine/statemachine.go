// Package statemachine implements the Pipeline State Machine (C6): the
// algorithm run on every claimed work unit that advances exactly one task
// of one ProcessRecord and decides what happens next — retry, hand off
// to the next task, or terminate the run.
package statemachine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/minisource/orchestrator/internal/executor"
	"github.com/minisource/orchestrator/internal/models"
	"github.com/minisource/orchestrator/internal/queue"
	"github.com/minisource/orchestrator/internal/registry"
	"github.com/minisource/orchestrator/internal/repository"
	"github.com/minisource/orchestrator/internal/substitution"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// tracer emits the spans SPEC_FULL.md commits to around Advance.
var tracer = otel.Tracer("github.com/minisource/orchestrator/internal/statemachine")

// Clock abstracts wall-clock "now" so tests can inject a fixed time.
type Clock interface {
	Now() time.Time
}

// StateMachine advances a ProcessRecord one task at a time per §4.6.
type StateMachine struct {
	processRepo *repository.ProcessRecordRepository
	taskRepo    *repository.TaskInstanceRepository
	registry    *registry.Registry
	exec        *executor.Executor
	queue       *queue.WorkQueue
	clock       Clock

	backoffBase time.Duration
	backoffMax  time.Duration

	log *zap.Logger
}

// Config bundles the backoff bounds used by backoff(n) (§4.6).
type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// New builds a state machine.
func New(
	processRepo *repository.ProcessRecordRepository,
	taskRepo *repository.TaskInstanceRepository,
	reg *registry.Registry,
	exec *executor.Executor,
	q *queue.WorkQueue,
	clock Clock,
	cfg Config,
	log *zap.Logger,
) *StateMachine {
	base := cfg.BackoffBase
	if base <= 0 {
		base = 30 * time.Second
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = 15 * time.Minute
	}
	return &StateMachine{
		processRepo: processRepo,
		taskRepo:    taskRepo,
		registry:    reg,
		exec:        exec,
		queue:       q,
		clock:       clock,
		backoffBase: base,
		backoffMax:  max,
		log:         log,
	}
}

// backoff computes the bounded exponential retry delay for the n-th
// retry attempt (n >= 1): min(base * 2^(n-1), max) (§4.6).
func (sm *StateMachine) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	scaled := float64(sm.backoffBase) * math.Pow(2, float64(attempt-1))
	if scaled > float64(sm.backoffMax) {
		return sm.backoffMax
	}
	return time.Duration(scaled)
}

// Advance runs the §4.6 algorithm for one claimed work unit, identified
// by taskInstance/owner/version and carrying the run-state payload.
func (sm *StateMachine) Advance(ctx context.Context, taskInstance, owner string, version int64, state models.ProcessRunState) error {
	ctx, span := tracer.Start(ctx, "statemachine.Advance", trace.WithAttributes(
		attribute.String("process_record_id", state.ProcessRecordID),
		attribute.String("task_instance", taskInstance),
	))
	defer span.End()

	err := sm.advance(ctx, taskInstance, owner, version, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (sm *StateMachine) advance(ctx context.Context, taskInstance, owner string, version int64, state models.ProcessRunState) error {
	now := sm.clock.Now()
	log := sm.log.With(zap.String("process_record_id", state.ProcessRecordID), zap.String("task_instance", taskInstance))

	record, err := sm.processRepo.FindByID(ctx, state.ProcessRecordID)
	if err != nil {
		log.Error("process record not found, dropping unit", zap.Error(err))
		return sm.queue.CompleteSuccess(ctx, taskInstance, owner, version)
	}

	// Step 2: stop requests win.
	if record.CurrentStatus == models.ProcessStatusStopped {
		log.Info("process stopped, acking unit without executing")
		return sm.queue.CompleteSuccess(ctx, taskInstance, owner, version)
	}

	processType, err := sm.registry.Get(record.Type)
	if err != nil {
		log.Error("unknown process type", zap.Error(err))
		_ = sm.processRepo.MarkFailed(ctx, record.ID, err.Error(), now)
		return sm.queue.CompleteSuccess(ctx, taskInstance, owner, version)
	}

	// Step 3: PENDING -> IN_PROGRESS on the first task.
	if record.CurrentStatus == models.ProcessStatusPending && record.CurrentTaskIndex == 0 {
		if err := sm.processRepo.MarkInProgress(ctx, record.ID, len(processType.Tasks), now); err != nil {
			return err
		}
		record.CurrentStatus = models.ProcessStatusInProgress
		record.TotalTasks = len(processType.Tasks)
	}

	// A process type with zero tasks completes immediately: there is no
	// task index to look up and no TaskInstance to create (§8 boundary).
	if record.TotalTasks == 0 {
		if err := sm.processRepo.MarkCompleted(ctx, record.ID, 0, now); err != nil {
			return err
		}
		return sm.queue.CompleteSuccess(ctx, taskInstance, owner, version)
	}

	taskDef := processType.Tasks[record.CurrentTaskIndex]

	// Step 4: create or load the TaskInstance for this index.
	inst, err := sm.taskRepo.FindByProcessAndIndex(ctx, record.ID, record.CurrentTaskIndex)
	if repository.IsNotFound(err) {
		command, subErr := substitution.Expand(taskDef.Command, record.InputData)
		if subErr != nil {
			log.Error("placeholder substitution failed", zap.Error(subErr))
			_ = sm.processRepo.MarkFailed(ctx, record.ID, subErr.Error(), now)
			return sm.queue.CompleteSuccess(ctx, taskInstance, owner, version)
		}

		inst = &models.TaskInstance{
			ProcessRecordID: record.ID,
			TaskIndex:       record.CurrentTaskIndex,
			Name:            taskDef.Name,
			Command:         command,
			WorkingDir:      taskDef.WorkingDir,
			TimeoutMinutes:  taskDef.TimeoutMinutes,
			MaxRetries:      taskDef.MaxRetries,
			Status:          models.TaskStatusInProgress,
			StartedAt:       &now,
		}
		if err := sm.taskRepo.Create(ctx, inst); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else if err := sm.taskRepo.MarkInProgress(ctx, inst.ID, now); err != nil {
		return err
	}

	// Step 5: invoke the executor.
	result := sm.exec.Execute(ctx, executor.Task{
		Command:        inst.Command,
		WorkingDir:     inst.WorkingDir,
		TimeoutMinutes: inst.TimeoutMinutes,
	})

	completedAt := sm.clock.Now()

	if result.Success {
		if err := sm.taskRepo.MarkCompleted(ctx, inst.ID, result.ExitCode, result.Output, completedAt); err != nil {
			return err
		}

		if record.CurrentTaskIndex+1 < record.TotalTasks {
			nextIndex := record.CurrentTaskIndex + 1
			if err := sm.processRepo.AdvanceTaskIndex(ctx, record.ID, nextIndex, completedAt); err != nil {
				return err
			}

			nextState := models.ProcessRunState{
				ProcessRecordID:  record.ID,
				ProcessTypeName:  record.Type,
				CurrentTaskIndex: nextIndex,
				TotalTasks:       record.TotalTasks,
				InputData:        record.InputData,
				TriggeredBy:      state.TriggeredBy,
				Attempt:          1,
			}
			payload, err := nextState.Marshal()
			if err != nil {
				return err
			}
			nextInstanceKey := fmt.Sprintf("%s:%d", record.ID, nextIndex)
			if err := sm.queue.Enqueue(ctx, nextInstanceKey, record.ID, payload, completedAt); err != nil {
				return err
			}
			return sm.queue.CompleteSuccess(ctx, taskInstance, owner, version)
		}

		if err := sm.processRepo.MarkCompleted(ctx, record.ID, record.CurrentTaskIndex+1, completedAt); err != nil {
			return err
		}
		return sm.queue.CompleteSuccess(ctx, taskInstance, owner, version)
	}

	// Step 7: executor failure — retry or terminate the run.
	if inst.RetryCount < inst.MaxRetries {
		nextAttempt := inst.RetryCount + 1
		delay := sm.backoff(nextAttempt)

		if err := sm.taskRepo.MarkFailed(ctx, inst.ID, result.ExitCode, result.Output, result.ErrorMessage, nextAttempt, completedAt); err != nil {
			return err
		}
		if err := sm.taskRepo.ResetForRetry(ctx, inst.ID, completedAt); err != nil {
			return err
		}

		return sm.queue.CompleteFailure(ctx, taskInstance, owner, version, completedAt.Add(delay), completedAt)
	}

	log.Warn("task exhausted retries, failing process record", zap.String("task", taskDef.Name))
	if err := sm.taskRepo.MarkFailed(ctx, inst.ID, result.ExitCode, result.Output, result.ErrorMessage, inst.RetryCount, completedAt); err != nil {
		return err
	}
	if err := sm.processRepo.MarkFailed(ctx, record.ID, result.ErrorMessage, completedAt); err != nil {
		return err
	}
	return sm.queue.CompleteSuccess(ctx, taskInstance, owner, version)
}
