package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Producer serializes UpdateTasks and left-pushes them onto the priority or
// pending lane.
type Producer struct {
	circuit       *RedisCircuitBreaker
	pendingQueue  string
	priorityQueue string
	maxAttempts   int
}

func newProducer(circuit *RedisCircuitBreaker, pendingQueue, priorityQueue string, maxAttempts int) *Producer {
	return &Producer{circuit: circuit, pendingQueue: pendingQueue, priorityQueue: priorityQueue, maxAttempts: maxAttempts}
}

// Push enqueues a single UpdateTask, returning its assigned task_id.
func (p *Producer) Push(ctx context.Context, placeID int64, ops models.UpdateOps, priority int) (string, error) {
	tracer := otel.Tracer("runner/queue/producer")
	ctx, span := tracer.Start(ctx, "Producer.Push", oteltrace.WithAttributes(
		attribute.Int64("queue.place_id", placeID),
		attribute.Int("queue.priority", priority),
	))
	defer span.End()

	task := &models.UpdateTask{
		TaskID:      uuid.New().String(),
		PlaceID:     placeID,
		Ops:         ops,
		Priority:    priority,
		MaxAttempts: p.maxAttempts,
		CreatedAt:   time.Now().UTC(),
		EnqueuedAt:  time.Now().UTC(),
	}

	data, err := json.Marshal(task)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.InternalError, "failed to marshal update task")
	}

	target := p.pendingQueue
	if priority > 0 {
		target = p.priorityQueue
	}
	if err := p.circuit.LPush(ctx, target, data).Err(); err != nil {
		span.RecordError(err)
		return "", apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to enqueue update task")
	}
	p.circuit.HIncrBy(ctx, statsKey, "pushed", 1)

	span.SetAttributes(attribute.String("queue.task_id", task.TaskID))
	return task.TaskID, nil
}

// PushAll batch-enqueues all given place ids, chunked in groups of ~100 to
// bound command latency, returning the total number pushed.
func (p *Producer) PushAll(ctx context.Context, places []int64, ops models.UpdateOps, priority int) (int, error) {
	tracer := otel.Tracer("runner/queue/producer")
	ctx, span := tracer.Start(ctx, "Producer.PushAll", oteltrace.WithAttributes(
		attribute.Int("queue.place_count", len(places)),
	))
	defer span.End()

	const chunkSize = 100
	pushed := 0
	for start := 0; start < len(places); start += chunkSize {
		end := start + chunkSize
		if end > len(places) {
			end = len(places)
		}
		for _, placeID := range places[start:end] {
			if _, err := p.Push(ctx, placeID, ops, priority); err != nil {
				return pushed, fmt.Errorf("push_all failed at place %d: %w", placeID, err)
			}
			pushed++
		}
	}
	span.SetAttributes(attribute.Int("queue.pushed", pushed))
	return pushed, nil
}
