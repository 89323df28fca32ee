package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_SubmitDispatchesToWorkerFunc(t *testing.T) {
	received := make(chan unitTask, 1)
	pool := NewWorkerPool(1, func(task unitTask) {
		received <- task
	})
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	ok := pool.Submit(unitTask{taskInstance: "proc-1:0", processRecordID: "proc-1", version: 1})
	require.True(t, ok)

	select {
	case got := <-received:
		assert.Equal(t, "proc-1:0", got.taskInstance)
		assert.Equal(t, "proc-1", got.processRecordID)
	case <-time.After(time.Second):
		t.Fatal("worker did not receive the submitted task")
	}
}

func TestWorkerPool_SubmitAfterStopReturnsFalse(t *testing.T) {
	pool := NewWorkerPool(1, func(task unitTask) {})
	pool.Start(context.Background())
	pool.Stop(time.Second)

	assert.False(t, pool.IsRunning())
	assert.False(t, pool.Submit(unitTask{taskInstance: "proc-1:0"}))
}

func TestWorkerPool_StopDrainsQueuedWorkWithinTimeout(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	pool := NewWorkerPool(1, func(task unitTask) {
		close(started)
		<-release
	})
	pool.Start(context.Background())

	require.True(t, pool.Submit(unitTask{taskInstance: "proc-1:0"}))
	<-started

	stopped := make(chan struct{})
	go func() {
		pool.Stop(time.Second)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight task was released")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the in-flight task finished")
	}
}

func TestWorkerPool_StopAbandonsSlowWorkAfterDrainTimeout(t *testing.T) {
	started := make(chan struct{})
	blockForever := make(chan struct{})
	pool := NewWorkerPool(1, func(task unitTask) {
		close(started)
		<-blockForever
	})
	pool.Start(context.Background())

	require.True(t, pool.Submit(unitTask{taskInstance: "proc-1:0"}))
	<-started

	done := make(chan struct{})
	go func() {
		pool.Stop(30 * time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return within its drain timeout despite stuck work")
	}
}
