package models

import "time"

// UpdateOps selects which enrichment operations an UpdateTask performs.
type UpdateOps struct {
	Menus   bool `json:"menus"`
	Images  bool `json:"images"`
	Reviews bool `json:"reviews"`
}

// UpdateTask is a queued unit of enrichment work for one place. TaskID is
// globally unique across attempts; a retry reuses PlaceID under a new TaskID.
type UpdateTask struct {
	TaskID     string    `json:"task_id"`
	PlaceID    int64     `json:"place_id"`
	Ops        UpdateOps `json:"ops"`
	Priority   int       `json:"priority"` // 0 = normal, 1 = priority lane
	Attempts   int       `json:"attempts"`
	MaxAttempts int      `json:"max_attempts"`
	CreatedAt  time.Time `json:"created_at"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// WorkerStatus is the liveness state of a WorkerRegistration.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerActive  WorkerStatus = "active"
	WorkerStopped WorkerStatus = "stopped"
)

// WorkerRegistration is the ephemeral view of a live update-queue consumer.
type WorkerRegistration struct {
	WorkerID      string       `json:"worker_id"`
	Status        WorkerStatus `json:"status"`
	CurrentTaskID string       `json:"current_task_id,omitempty"`
	TasksProcessed int64       `json:"tasks_processed"`
	TasksFailed    int64       `json:"tasks_failed"`
	LastHeartbeat  time.Time   `json:"last_heartbeat"`
}

// QueueStats is the point-in-time view returned by GET /batch/queue/stats.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Priority   int64 `json:"priority"`
	Inflight   int64 `json:"inflight"`
	Retry      int64 `json:"retry"`
	Dead       int64 `json:"dead"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`

	// Counters mirrors the update:stats hash of monotonic totals.
	Counters map[string]int64 `json:"counters,omitempty"`
}
