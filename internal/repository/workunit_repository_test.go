package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/minisource/orchestrator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkUnitRepository_ClaimDue_SkipsLostRace(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkUnitRepository(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM "scheduled_work_units" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"task_name", "task_instance", "version"}).
			AddRow("process-orchestrator-task", "proc-1:0", int64(1)).
			AddRow("process-orchestrator-task", "proc-2:0", int64(1)))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "scheduled_work_units" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "scheduled_work_units" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	claimed, err := repo.ClaimDue(context.Background(), "owner-1", 10, now)

	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "proc-1:0", claimed[0].TaskInstance)
	assert.True(t, claimed[0].Picked)
	assert.Equal(t, int64(2), claimed[0].Version)
}

func TestWorkUnitRepository_CompleteSuccess_DeletesRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkUnitRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "scheduled_work_units" WHERE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.CompleteSuccess(context.Background(), "process-orchestrator-task", "proc-1:0", "owner-1", 3)

	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestWorkUnitRepository_CompleteFailure_PushesExecutionTime(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkUnitRepository(db)
	next := time.Now().Add(30 * time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "scheduled_work_units" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.CompleteFailure(context.Background(), "process-orchestrator-task", "proc-1:0", "owner-1", 3, next, time.Now())

	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestWorkUnitRepository_Heartbeat_FailsOnVersionMismatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkUnitRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "scheduled_work_units" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := repo.Heartbeat(context.Background(), "process-orchestrator-task", "proc-1:0", "owner-1", 5, time.Now())

	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkUnitRepository_ReclaimDead(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkUnitRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "scheduled_work_units" SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := repo.ReclaimDead(context.Background(), time.Now().Add(-time.Minute))

	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestWorkUnitRepository_Enqueue_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkUnitRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "scheduled_work_units" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"task_name", "task_instance"}))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "scheduled_work_units"`).
		WillReturnRows(sqlmock.NewRows([]string{"task_name"}))
	mock.ExpectCommit()

	wu := &models.WorkUnit{
		TaskName:        models.CoreTaskName,
		TaskInstance:    "proc-1:0",
		ProcessRecordID: "proc-1",
		ExecutionTime:   time.Now(),
	}
	err := repo.Enqueue(context.Background(), wu)

	assert.NoError(t, err)
}
