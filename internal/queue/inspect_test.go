package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func TestListWorkers_ReportsLiveRegistrations(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Push(ctx, 42, models.UpdateOps{Menus: true}, 0)
	require.NoError(t, err)

	task, err := q.Dequeue(ctx, "host-a:0")
	require.NoError(t, err)
	require.NotNil(t, task)

	workers, err := q.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "host-a:0", workers[0].WorkerID)
	assert.Equal(t, models.WorkerActive, workers[0].Status)
	assert.Equal(t, task.TaskID, workers[0].CurrentTaskID)
}

func TestGetTask_FindsInflightAndLanes(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	pendingID, err := q.Push(ctx, 1, models.UpdateOps{Menus: true}, 0)
	require.NoError(t, err)
	priorityID, err := q.Push(ctx, 2, models.UpdateOps{Images: true}, 1)
	require.NoError(t, err)

	task, lane, err := q.GetTask(ctx, pendingID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "pending", lane)

	task, lane, err = q.GetTask(ctx, priorityID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "priority", lane)

	// Claim the priority task; it should now be visible as inflight.
	claimed, err := q.Dequeue(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, priorityID, claimed.TaskID)

	task, lane, err = q.GetTask(ctx, priorityID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "inflight", lane)

	// Unknown id: no trace.
	task, _, err = q.GetTask(ctx, "no-such-task")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestListFailed_And_RetryFailed_RoundTrip(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	// Exhaust a task into the dead list (MaxAttempts = 2).
	_, err := q.Push(ctx, 77, models.UpdateOps{Reviews: true}, 0)
	require.NoError(t, err)

	task, err := q.Dequeue(ctx, "w-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, q.FailTask(ctx, "w-1", task, errSimulated))

	// Wait out the retry backoff (scored at second granularity), promote,
	// fail again to exhaust.
	promoted := 0
	deadline := time.Now().Add(3 * time.Second)
	for promoted == 0 && time.Now().Before(deadline) {
		time.Sleep(25 * time.Millisecond)
		promoted, err = q.PromoteRetries(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 1, promoted)

	task, err = q.Dequeue(ctx, "w-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, q.FailTask(ctx, "w-1", task, errSimulated))

	failed, err := q.ListFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{77}, failed)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Dead)

	retried, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, retried)

	// The place is live again under a fresh task id, with the failed-set
	// membership cleared.
	failed, err = q.ListFailed(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)

	task, err = q.Dequeue(ctx, "w-2")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, int64(77), task.PlaceID)
}

func TestClearVariants(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Push(ctx, 1, models.UpdateOps{Menus: true}, 0)
	require.NoError(t, err)
	_, err = q.Push(ctx, 2, models.UpdateOps{Menus: true}, 1)
	require.NoError(t, err)

	task, err := q.Dequeue(ctx, "w-1")
	require.NoError(t, err)
	require.NoError(t, q.CompleteTask(ctx, "w-1", task))

	require.NoError(t, q.ClearCompleted(ctx))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Completed)

	require.NoError(t, q.Clear(ctx))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Priority)
	assert.Zero(t, stats.Inflight)
}

func TestClaimIdempotencyKey_DedupesRetriedPush(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	claimed, got, err := q.ClaimIdempotencyKey(ctx, "push-abc", "task-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "task-1", got)

	require.NoError(t, q.StoreIdempotencyResult(ctx, "push-abc", "task-real"))

	claimed, got, err = q.ClaimIdempotencyKey(ctx, "push-abc", "task-2")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "task-real", got)
}

var errSimulated = errors.New("simulated task failure")
