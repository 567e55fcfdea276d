// Package e2e exercises end-to-end queue and worker scenarios against
// in-process fakes: miniredis for the update queue, stub executors for
// enrichment.
// Database-backed flows (checkpoint resume) are covered at the package level
// with sqlmock; these tests focus on the queue and worker interplay that
// only shows up when the real components run together.
package e2e

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamie-anson/placeflow-ingestor/internal/queue"
	"github.com/jamie-anson/placeflow-ingestor/internal/worker"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func newQueue(t *testing.T, visibility time.Duration) (*miniredis.Miniredis, *queue.UpdateQueueImpl) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q, err := queue.New(queue.Config{
		RedisURL:          "redis://" + mr.Addr(),
		VisibilityTimeout: visibility,
		HeartbeatInterval: 50 * time.Millisecond,
		MaxAttempts:       3,
		BackoffInitial:    10 * time.Millisecond,
		BackoffMax:        50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return mr, q
}

// Scenario: priority preemption. Ten ordinary tasks then one priority task;
// the consumer pops the priority task first, then the ten in FIFO order.
func TestPriorityTaskPreemptsPendingLane(t *testing.T) {
	_, q := newQueue(t, time.Minute)
	ctx := context.Background()

	ordinary := make([]string, 0, 10)
	for i := int64(1); i <= 10; i++ {
		id, err := q.Push(ctx, i, models.UpdateOps{Menus: true}, 0)
		require.NoError(t, err)
		ordinary = append(ordinary, id)
	}
	priorityID, err := q.Push(ctx, 99, models.UpdateOps{Menus: true}, 1)
	require.NoError(t, err)

	first, err := q.Dequeue(ctx, "w-0")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, priorityID, first.TaskID)
	require.NoError(t, q.CompleteTask(ctx, "w-0", first))

	for i, want := range ordinary {
		task, err := q.Dequeue(ctx, "w-0")
		require.NoError(t, err)
		require.NotNil(t, task, "task %d missing", i)
		assert.Equal(t, want, task.TaskID, "pending lane must stay FIFO")
		require.NoError(t, q.CompleteTask(ctx, "w-0", task))
	}
}

// Scenario: at-least-once under worker loss. Consumer A claims a task and
// dies silently; the supervisory recovery pass re-enqueues it; consumer B
// completes it. The completed set holds the place exactly once.
func TestTaskSurvivesWorkerLoss(t *testing.T) {
	_, q := newQueue(t, 100*time.Millisecond)
	ctx := context.Background()

	_, err := q.Push(ctx, 42, models.UpdateOps{Images: true}, 0)
	require.NoError(t, err)

	claimed, err := q.Dequeue(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	// worker-a crashes here: no heartbeat, no complete, no fail. Its
	// in-flight record's remaining visibility is already inside the
	// supervisor's recovery horizon.
	recovered, err := q.RecoverVisibilityTimeouts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	replay, err := q.Dequeue(ctx, "worker-b")
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, int64(42), replay.PlaceID)
	require.NoError(t, q.CompleteTask(ctx, "worker-b", replay))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed, "completed set dedupes by place_id")
	assert.Zero(t, stats.Inflight)
	assert.Zero(t, stats.Pending)
}

// countingRunner records peak concurrency across workers while completing
// every task after a short simulated enrichment.
type countingRunner struct {
	active  atomic.Int64
	peak    atomic.Int64
	handled sync.Map
}

func (r *countingRunner) Execute(ctx context.Context, task *models.UpdateTask) error {
	n := r.active.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	r.handled.Store(task.PlaceID, true)
	r.active.Add(-1)
	return nil
}

// Scenario: concurrent multi-worker drain. Three consumers drain 300 tasks;
// they genuinely overlap and leave nothing behind in the inflight or retry
// lanes.
func TestThreeWorkersDrainQueueConcurrently(t *testing.T) {
	_, q := newQueue(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := make([]int64, 300)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	pushed, err := q.PushAll(ctx, ids, models.UpdateOps{Menus: true}, 0)
	require.NoError(t, err)
	require.Equal(t, 300, pushed)

	runner := &countingRunner{}
	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		consumer := worker.NewTaskConsumer(fmt.Sprintf("host-1:%d", w), q, runner)
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Start(ctx)
		}()
	}

	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		if stats.Completed == 300 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), stats.Completed)
	assert.Zero(t, stats.Inflight, "no task may be stuck in flight")
	assert.Zero(t, stats.Retry, "no task may be stuck in retry limbo")
	assert.Zero(t, stats.Pending)

	handled := 0
	runner.handled.Range(func(_, _ interface{}) bool { handled++; return true })
	assert.Equal(t, 300, handled)
	assert.Greater(t, runner.peak.Load(), int64(1), "workers must actually overlap")
}
