package models

import "time"

// WorkerSlotStatus is the lifecycle state of one Job Controller worker slot.
type WorkerSlotStatus string

const (
	SlotNotStarted WorkerSlotStatus = "NOT_STARTED"
	SlotStarting   WorkerSlotStatus = "STARTING"
	SlotStarted    WorkerSlotStatus = "STARTED"
	SlotStopping   WorkerSlotStatus = "STOPPING"
	SlotCompleted  WorkerSlotStatus = "COMPLETED"
	SlotFailed     WorkerSlotStatus = "FAILED"
	SlotStopped    WorkerSlotStatus = "STOPPED"
)

// EngineStatus is the terminal (or current) status of a Chunked Pipeline Engine run.
type EngineStatus string

const (
	EngineRunning   EngineStatus = "RUNNING"
	EngineCompleted EngineStatus = "COMPLETED"
	EngineFailed    EngineStatus = "FAILED"
	EngineStopped   EngineStatus = "STOPPED"
)

// EngineKind distinguishes the four reader bindings a Pipeline Engine can run with.
type EngineKind string

const (
	EngineKindRegionSweep  EngineKind = "region-sweep"
	EngineKindModuloCrawl  EngineKind = "modulo-crawl"
	EngineKindUpdateQueue  EngineKind = "update-queue"
	EngineKindEmbedding    EngineKind = "embedding"
)

// EngineCounters are the aggregated per-run counters the engine reports.
type EngineCounters struct {
	Read    int `json:"read"`
	Written int `json:"written"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SlotState is the Job Controller's live view of one worker slot.
type SlotState struct {
	JobName     string           `json:"job_name"`
	WorkerID    int              `json:"worker_id"`
	Kind        EngineKind       `json:"kind"`
	Status      WorkerSlotStatus `json:"status"`
	ExecutionID string           `json:"execution_id,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	EndedAt     *time.Time       `json:"ended_at,omitempty"`
	Counters    EngineCounters   `json:"counters"`
	LastError   string           `json:"last_error,omitempty"`
}
