package api

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/queue"
	"github.com/jamie-anson/placeflow-ingestor/internal/worker"
)

// QueueWorkerRegistry starts and stops named update-queue consumers.
// TaskConsumer itself has no stop or status surface of its own; the
// registry layers start/stop/status bookkeeping over it the same way
// jobcontrol.Controller does for chunked-pipeline slots.
type QueueWorkerRegistry struct {
	mu       sync.Mutex
	q        *queue.UpdateQueueImpl
	executor worker.TaskRunner
	running  map[string]context.CancelFunc
}

// NewQueueWorkerRegistry binds a registry to the queue and task executor
// every named consumer will share.
func NewQueueWorkerRegistry(q *queue.UpdateQueueImpl, executor worker.TaskRunner) *QueueWorkerRegistry {
	return &QueueWorkerRegistry{q: q, executor: executor, running: make(map[string]context.CancelFunc)}
}

// Start launches a TaskConsumer under workerID unless one is already running.
func (r *QueueWorkerRegistry) Start(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.running[workerID]; exists {
		return apperrors.New(apperrors.ConflictError, fmt.Sprintf("queue worker %q already running", workerID))
	}
	ctx, cancel := context.WithCancel(context.Background())
	consumer := worker.NewTaskConsumer(workerID, r.q, r.executor)
	r.running[workerID] = cancel
	go consumer.Start(ctx)
	return nil
}

// Stop cancels the named consumer's context.
func (r *QueueWorkerRegistry) Stop(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, exists := r.running[workerID]
	if !exists {
		return apperrors.NewNotFoundError(fmt.Sprintf("queue worker %q", workerID))
	}
	cancel()
	delete(r.running, workerID)
	return nil
}

// Status lists the worker IDs currently running.
func (r *QueueWorkerRegistry) Status() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	return ids
}
