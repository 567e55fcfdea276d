package queue

import (
	"context"

	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Filter selects which places push_all enqueues tasks for.
type Filter struct {
	CrawlStatus models.CrawlStatus
	EmbedStatus models.EmbedStatus
	Ops         models.UpdateOps
	Priority    int
}

// UpdateQueue is the Redis-backed enrichment task queue: priority/pending
// lanes, in-flight tracking, and retry/dead-letter recovery.
type UpdateQueue interface {
	Push(ctx context.Context, placeID int64, ops models.UpdateOps, priority int) (taskID string, err error)
	PushAll(ctx context.Context, places []int64, ops models.UpdateOps, priority int) (pushed int, err error)
	Dequeue(ctx context.Context, workerID string) (*models.UpdateTask, error)
	CompleteTask(ctx context.Context, workerID string, task *models.UpdateTask) error
	FailTask(ctx context.Context, workerID string, task *models.UpdateTask, taskErr error) error
	Heartbeat(ctx context.Context, workerID string) error
	Stats(ctx context.Context) (models.QueueStats, error)
	RecoverVisibilityTimeouts(ctx context.Context) (recovered int, err error)
	PromoteRetries(ctx context.Context) (promoted int, err error)
	Close() error
}

// cmdErr is the minimal command interface we use (Err accessor).
type cmdErr interface{ Err() error }
