package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func newTestQueue(t *testing.T) (*miniredis.Miniredis, *UpdateQueueImpl) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q, err := New(Config{
		RedisURL:          "redis://" + mr.Addr(),
		VisibilityTimeout: 50 * time.Millisecond,
		HeartbeatInterval: time.Second,
		MaxAttempts:       2,
		BackoffInitial:    10 * time.Millisecond,
		BackoffMax:        20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return mr, q
}

func TestPushAndDequeue_PendingLane(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	taskID, err := q.Push(ctx, 42, models.UpdateOps{Menus: true}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, int64(42), task.PlaceID)
	assert.Equal(t, 1, task.Attempts)
}

func TestPriorityLaneDrainsFirst(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Push(ctx, 1, models.UpdateOps{}, 0)
	require.NoError(t, err)
	_, err = q.Push(ctx, 2, models.UpdateOps{}, 1)
	require.NoError(t, err)

	task, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, int64(2), task.PlaceID, "priority lane task must be dequeued before pending lane")
}

func TestCompleteTask_ClearsInflightAndMarksCompleted(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Push(ctx, 7, models.UpdateOps{}, 0)
	require.NoError(t, err)
	task, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)

	require.NoError(t, q.CompleteTask(ctx, "worker-1", task))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Completed)
	assert.EqualValues(t, 0, stats.Inflight)
}

func TestFailTask_SchedulesRetryUntilMaxAttempts(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Push(ctx, 9, models.UpdateOps{}, 0)
	require.NoError(t, err)
	task, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, task.Attempts)

	require.NoError(t, q.FailTask(ctx, "worker-1", task, assertError{"transient failure"}))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Retry)
	assert.EqualValues(t, 0, stats.Dead)
}

func TestFailTask_MovesToDeadAfterMaxAttempts(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	task := &models.UpdateTask{TaskID: "t-1", PlaceID: 11, Attempts: 2, MaxAttempts: 2}
	require.NoError(t, q.FailTask(ctx, "worker-1", task, assertError{"exhausted"}))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Dead)
	assert.EqualValues(t, 1, stats.Failed)
}

func TestRecoverVisibilityTimeouts_RequeuesExpiredInflight(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Push(ctx, 5, models.UpdateOps{}, 0)
	require.NoError(t, err)
	task, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, task)

	mr.FastForward(100 * time.Millisecond)

	recovered, err := q.RecoverVisibilityTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)
}

func TestPromoteRetries_MovesReadyEntriesToPending(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	task := &models.UpdateTask{TaskID: "t-2", PlaceID: 3, Attempts: 1, MaxAttempts: 3}
	require.NoError(t, q.FailTask(ctx, "worker-1", task, assertError{"transient"}))

	// a first retry waits 20ms here (10ms initial doubled, at the 20ms cap); wait it out
	time.Sleep(30 * time.Millisecond)

	promoted, err := q.PromoteRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)
	assert.EqualValues(t, 0, stats.Retry)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
