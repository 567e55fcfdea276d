package worker

import (
	"context"
	"time"

	"github.com/jamie-anson/placeflow-ingestor/internal/logging"
	"github.com/jamie-anson/placeflow-ingestor/internal/metrics"
	"github.com/jamie-anson/placeflow-ingestor/internal/queue"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// TaskRunner executes one claimed update task; satisfied by *TaskExecutor,
// narrowed so tests can substitute a stub without real collaborators.
type TaskRunner interface {
	Execute(ctx context.Context, task *models.UpdateTask) error
}

// TaskConsumer drains the update queue on a single worker slot: dequeue,
// heartbeat independently of execution time, execute, then complete or fail
// the task back to the queue.
type TaskConsumer struct {
	WorkerID          string
	Queue             *queue.UpdateQueueImpl
	Executor          TaskRunner
	HeartbeatInterval time.Duration
}

// NewTaskConsumer builds a TaskConsumer for workerID.
func NewTaskConsumer(workerID string, q *queue.UpdateQueueImpl, executor TaskRunner) *TaskConsumer {
	return &TaskConsumer{
		WorkerID:          workerID,
		Queue:             q,
		Executor:          executor,
		HeartbeatInterval: 10 * time.Second,
	}
}

// Start drains the queue in a loop until ctx is cancelled.
func (c *TaskConsumer) Start(ctx context.Context) {
	l := logging.FromContext(ctx)
	l.Info().Str("worker_id", c.WorkerID).Msg("update queue consumer started")

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("update queue consumer crashed with panic")
			metrics.JobsFailedTotal.Inc()
		}
		l.Warn().Str("worker_id", c.WorkerID).Msg("update queue consumer exiting")
	}()

	for {
		select {
		case <-ctx.Done():
			l.Warn().Err(ctx.Err()).Msg("update queue consumer stopping due to context cancellation")
			return
		default:
		}

		task, err := c.Queue.Dequeue(ctx, c.WorkerID)
		if err != nil {
			l.Error().Err(err).Msg("update queue dequeue error")
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue // dequeue timed out, nothing ready
		}

		l.Info().Str("task_id", task.TaskID).Int64("place_id", task.PlaceID).Int("attempts", task.Attempts).Msg("update task claimed")

		taskCtx, cancelHeartbeat := context.WithCancel(ctx)
		done := make(chan struct{})
		go c.heartbeatLoop(taskCtx, done)

		execErr := c.Executor.Execute(taskCtx, task)

		cancelHeartbeat()
		<-done

		if execErr != nil {
			l.Error().Err(execErr).Str("task_id", task.TaskID).Int64("place_id", task.PlaceID).Msg("update task failed")
			metrics.JobsFailedTotal.Inc()
			if err := c.Queue.FailTask(ctx, c.WorkerID, task, execErr); err != nil {
				l.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to record task failure")
			}
			continue
		}

		l.Info().Str("task_id", task.TaskID).Int64("place_id", task.PlaceID).Msg("update task completed")
		metrics.JobsProcessedTotal.Inc()
		if err := c.Queue.CompleteTask(ctx, c.WorkerID, task); err != nil {
			l.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to record task completion")
		}
	}
}

func (c *TaskConsumer) heartbeatLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Queue.Heartbeat(context.Background(), c.WorkerID); err != nil {
				logging.FromContext(ctx).Warn().Err(err).Str("worker_id", c.WorkerID).Msg("update queue heartbeat failed")
			}
		}
	}
}
