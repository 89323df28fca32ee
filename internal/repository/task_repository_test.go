package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/minisource/orchestrator/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestTaskInstanceRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskInstanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "task_instances"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectCommit()

	ti := &models.TaskInstance{ProcessRecordID: "proc-1", TaskIndex: 0, Name: "fetch-data"}
	err := repo.Create(context.Background(), ti)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskInstanceRepository_FindByProcessRecord_OrdersByIndex(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskInstanceRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "task_instances" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_index", "name"}).
			AddRow(uuid.New(), 0, "fetch-data").
			AddRow(uuid.New(), 1, "build-report"))

	list, err := repo.FindByProcessRecord(context.Background(), "proc-1")

	assert.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, 0, list[0].TaskIndex)
	assert.Equal(t, 1, list[1].TaskIndex)
}

func TestTaskInstanceRepository_MarkFailed_BumpsRetryCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskInstanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "task_instances" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id := uuid.New()
	err := repo.MarkFailed(context.Background(), id, 1, "boom", "exit status 1", 2, time.Now())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskInstanceRepository_FindByProcessAndIndex_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskInstanceRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "task_instances" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ti, err := repo.FindByProcessAndIndex(context.Background(), "proc-1", 3)

	assert.Nil(t, ti)
	assert.True(t, IsNotFound(err))
}
