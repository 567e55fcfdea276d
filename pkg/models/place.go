package models

import "time"

// CrawlStatus is the lifecycle state of a Place's crawl enrichment.
type CrawlStatus string

const (
	CrawlPending   CrawlStatus = "PENDING"
	CrawlCompleted CrawlStatus = "COMPLETED"
	CrawlFailed    CrawlStatus = "FAILED"
	CrawlNotFound  CrawlStatus = "NOT_FOUND"
)

// EmbedStatus is the lifecycle state of a Place's embedding generation.
type EmbedStatus string

const (
	EmbedPending   EmbedStatus = "PENDING"
	EmbedCompleted EmbedStatus = "COMPLETED"
	EmbedFailed    EmbedStatus = "FAILED"
)

// Place is the external collaborator's point-of-interest row. The core only
// reads and writes CrawlStatus and EmbedStatus; the remaining fields are
// carried so crawl/embedding writers have somewhere to put what they fetch.
type Place struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Category    string      `json:"category,omitempty"`
	Address     string      `json:"address,omitempty"`
	Latitude    float64     `json:"latitude,omitempty"`
	Longitude   float64     `json:"longitude,omitempty"`
	CountryCode string      `json:"country_code,omitempty"`
	CrawlStatus CrawlStatus `json:"crawl_status"`
	EmbedStatus EmbedStatus `json:"embed_status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// RegionTier is the administrative granularity a RegionCheckpoint is keyed at.
type RegionTier string

const (
	RegionSido    RegionTier = "sido"
	RegionSigungu RegionTier = "sigungu"
	RegionDong    RegionTier = "dong"
)

// CheckpointStatus is the lifecycle state of one RegionCheckpoint row.
type CheckpointStatus string

const (
	CheckpointPending    CheckpointStatus = "PENDING"
	CheckpointProcessing CheckpointStatus = "PROCESSING"
	CheckpointCompleted  CheckpointStatus = "COMPLETED"
	CheckpointFailed     CheckpointStatus = "FAILED"
)

// Region is one row of the region catalog used to seed a RegionCheckpoint sweep.
type Region struct {
	Code       string
	Name       string
	Tier       RegionTier
	ParentCode string
}

// RegionCheckpoint is the unit of resumable progress for a region-sweep batch.
type RegionCheckpoint struct {
	ID             int64            `json:"id"`
	BatchName      string           `json:"batch_name"`
	RegionType     RegionTier       `json:"region_type"`
	RegionCode     string           `json:"region_code"`
	RegionName     string           `json:"region_name"`
	ParentCode     string           `json:"parent_code,omitempty"`
	Status         CheckpointStatus `json:"status"`
	ProcessedCount int              `json:"processed_count"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	StartTime      *time.Time       `json:"start_time,omitempty"`
	EndTime        *time.Time       `json:"end_time,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ExecutionStatus is the lifecycle state of a BatchExecution run.
type ExecutionStatus string

const (
	ExecutionRunning     ExecutionStatus = "RUNNING"
	ExecutionCompleted   ExecutionStatus = "COMPLETED"
	ExecutionFailed      ExecutionStatus = "FAILED"
	ExecutionInterrupted ExecutionStatus = "INTERRUPTED"
)

// BatchExecution is one run of a named batch.
type BatchExecution struct {
	ExecutionID      string          `json:"execution_id"`
	BatchName        string          `json:"batch_name"`
	Status           ExecutionStatus `json:"status"`
	TotalRegions     int             `json:"total_regions"`
	CompletedRegions int             `json:"completed_regions"`
	FailedRegions    int             `json:"failed_regions"`
	LastCheckpointID int64           `json:"last_checkpoint_id,omitempty"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          *time.Time      `json:"end_time,omitempty"`
}

// Progress is the aggregate view of a batch's checkpoint rows.
type Progress struct {
	BatchName  string  `json:"batch_name"`
	Total      int     `json:"total"`
	Pending    int     `json:"pending"`
	Processing int     `json:"processing"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	PercentPct float64 `json:"pct"`
}
