package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/minisource/orchestrator/internal/executor"
	"github.com/minisource/orchestrator/internal/models"
	"github.com/minisource/orchestrator/internal/queue"
	"github.com/minisource/orchestrator/internal/registry"
	"github.com/minisource/orchestrator/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newHarness(t *testing.T) (*StateMachine, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 mockDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	processRepo := repository.NewProcessRecordRepository(db)
	taskRepo := repository.NewTaskInstanceRepository(db)
	workUnitRepo := repository.NewWorkUnitRepository(db)
	q := queue.New(workUnitRepo)

	reg := registry.New(3)
	reg.Register(registry.ProcessType{
		Name: "nightly-report",
		Tasks: []registry.TaskDefinition{
			{Name: "fetch-data", Command: "echo hi", TimeoutMinutes: 1, MaxRetries: 2},
		},
	})

	sm := New(processRepo, taskRepo, reg, executor.New(), q, fixedClock{now: time.Date(2026, 7, 29, 3, 0, 0, 0, time.UTC)}, Config{}, zap.NewNop())
	return sm, mock
}

func TestAdvance_CompletesSingleTaskProcess(t *testing.T) {
	sm, mock := newHarness(t)

	mock.ExpectQuery(`SELECT \* FROM "process_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "input_data", "current_status", "current_task_index", "total_tasks"}).
			AddRow("proc-1", "nightly-report", `{}`, "pending", 0, 1))

	mock.ExpectBegin() // MarkInProgress
	mock.ExpectExec(`UPDATE "process_records" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT \* FROM "task_instances" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectBegin() // Create task instance
	mock.ExpectQuery(`INSERT INTO "task_instances"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	mock.ExpectBegin() // MarkCompleted (task)
	mock.ExpectExec(`UPDATE "task_instances" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin() // MarkCompleted (process record)
	mock.ExpectExec(`UPDATE "process_records" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin() // CompleteSuccess -> delete work unit
	mock.ExpectExec(`DELETE FROM "scheduled_work_units"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	state := models.ProcessRunState{ProcessRecordID: "proc-1", ProcessTypeName: "nightly-report", TotalTasks: 1, Attempt: 1}
	err := sm.Advance(context.Background(), "proc-1:0", "owner-1", 1, state)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvance_StoppedRecordAcksWithoutExecuting(t *testing.T) {
	sm, mock := newHarness(t)

	mock.ExpectQuery(`SELECT \* FROM "process_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "current_status", "current_task_index", "total_tasks"}).
			AddRow("proc-1", "nightly-report", "stopped", 0, 1))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "scheduled_work_units"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	state := models.ProcessRunState{ProcessRecordID: "proc-1", TotalTasks: 1}
	err := sm.Advance(context.Background(), "proc-1:0", "owner-1", 1, state)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvance_RetriesFailedTaskWithBackoff(t *testing.T) {
	sm, mock := newHarness(t)

	mock.ExpectQuery(`SELECT \* FROM "process_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "current_status", "current_task_index", "total_tasks"}).
			AddRow("proc-1", "nightly-report", "in_progress", 0, 1))

	mock.ExpectQuery(`SELECT \* FROM "task_instances" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "process_record_id", "task_index", "command", "retry_count", "max_retries"}).
			AddRow("11111111-1111-1111-1111-111111111111", "proc-1", 0, "this-command-does-not-exist", 0, 2))

	mock.ExpectBegin() // MarkInProgress (task instance)
	mock.ExpectExec(`UPDATE "task_instances" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin() // MarkFailed (task instance)
	mock.ExpectExec(`UPDATE "task_instances" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin() // ResetForRetry
	mock.ExpectExec(`UPDATE "task_instances" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin() // CompleteFailure
	mock.ExpectExec(`UPDATE "scheduled_work_units" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	state := models.ProcessRunState{ProcessRecordID: "proc-1", TotalTasks: 1}
	err := sm.Advance(context.Background(), "proc-1:0", "owner-1", 1, state)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvance_MultiTaskSuccessAdvancesIndexAndEnqueuesNext(t *testing.T) {
	sm, mock := newHarness(t)

	mock.ExpectQuery(`SELECT \* FROM "process_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "input_data", "current_status", "current_task_index", "total_tasks"}).
			AddRow("proc-1", "nightly-report", `{}`, "in_progress", 0, 2))

	mock.ExpectQuery(`SELECT \* FROM "task_instances" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectBegin() // Create task instance
	mock.ExpectQuery(`INSERT INTO "task_instances"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	mock.ExpectBegin() // MarkCompleted (task)
	mock.ExpectExec(`UPDATE "task_instances" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin() // AdvanceTaskIndex
	mock.ExpectExec(`UPDATE "process_records" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT \* FROM "scheduled_work_units" WHERE`). // Enqueue next unit
										WillReturnRows(sqlmock.NewRows([]string{"task_name"}))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "scheduled_work_units"`).
		WillReturnRows(sqlmock.NewRows([]string{"task_name"}))
	mock.ExpectCommit()

	mock.ExpectBegin() // CompleteSuccess on the current unit
	mock.ExpectExec(`DELETE FROM "scheduled_work_units"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	state := models.ProcessRunState{ProcessRecordID: "proc-1", ProcessTypeName: "nightly-report", TotalTasks: 2, Attempt: 1}
	err := sm.Advance(context.Background(), "proc-1:0", "owner-1", 1, state)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvance_RetryExhaustedFailsProcessRecord(t *testing.T) {
	sm, mock := newHarness(t)

	mock.ExpectQuery(`SELECT \* FROM "process_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "current_status", "current_task_index", "total_tasks"}).
			AddRow("proc-1", "nightly-report", "in_progress", 0, 1))

	mock.ExpectQuery(`SELECT \* FROM "task_instances" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "process_record_id", "task_index", "command", "retry_count", "max_retries"}).
			AddRow("11111111-1111-1111-1111-111111111111", "proc-1", 0, "this-command-does-not-exist", 2, 2))

	mock.ExpectBegin() // MarkInProgress (task instance)
	mock.ExpectExec(`UPDATE "task_instances" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin() // MarkFailed (task instance, terminal — retry_count == max_retries)
	mock.ExpectExec(`UPDATE "task_instances" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin() // MarkFailed (process record)
	mock.ExpectExec(`UPDATE "process_records" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin() // CompleteSuccess -> ack, no further retry scheduled
	mock.ExpectExec(`DELETE FROM "scheduled_work_units"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	state := models.ProcessRunState{ProcessRecordID: "proc-1", TotalTasks: 1}
	err := sm.Advance(context.Background(), "proc-1:0", "owner-1", 1, state)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvance_ZeroTaskProcessCompletesImmediately(t *testing.T) {
	sm, mock := newHarness(t)
	sm.registry.Register(registry.ProcessType{Name: "empty-pipeline", Tasks: []registry.TaskDefinition{}})

	mock.ExpectQuery(`SELECT \* FROM "process_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "current_status", "current_task_index", "total_tasks"}).
			AddRow("proc-1", "empty-pipeline", "in_progress", 0, 0))

	mock.ExpectBegin() // MarkCompleted (process record, TotalTasks == 0)
	mock.ExpectExec(`UPDATE "process_records" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin() // CompleteSuccess -> ack
	mock.ExpectExec(`DELETE FROM "scheduled_work_units"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	state := models.ProcessRunState{ProcessRecordID: "proc-1", ProcessTypeName: "empty-pipeline", TotalTasks: 0}
	err := sm.Advance(context.Background(), "proc-1:0", "owner-1", 1, state)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackoff_BoundedExponential(t *testing.T) {
	sm, _ := newHarness(t)
	sm.backoffBase = time.Second
	sm.backoffMax = 10 * time.Second

	require.Equal(t, time.Second, sm.backoff(1))
	require.Equal(t, 2*time.Second, sm.backoff(2))
	require.Equal(t, 4*time.Second, sm.backoff(3))
	require.Equal(t, 10*time.Second, sm.backoff(10)) // clamped to max
}
