// Package checkpoint persists per-region sweep progress so a batch can be
// resumed after a crash without reprocessing completed regions.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func newExecutionID() string {
	return uuid.New().String()
}

const errorMessageMaxLen = 2000

// Store is the durable checkpoint and batch-execution ledger backing a
// region-sweep batch. All transitions commit as single-row updates inside
// their own transaction.
type Store struct {
	db *sql.DB
}

// New wraps a *sql.DB with checkpoint operations.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InitResult reports how many region rows were newly created vs. already present.
type InitResult struct {
	Inserted int
	Skipped  int
}

// Initialize seeds PENDING checkpoint rows for a batch. Idempotent: a region
// already present for (batch_name, region_type, region_code) is left
// unchanged.
func (s *Store) Initialize(ctx context.Context, batchName string, regionType models.RegionTier, regions []models.Region) (InitResult, error) {
	tracer := otel.Tracer("runner/checkpoint")
	ctx, span := tracer.Start(ctx, "Store.Initialize", oteltrace.WithAttributes(
		attribute.String("checkpoint.batch_name", batchName),
		attribute.Int("checkpoint.region_count", len(regions)),
	))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InitResult{}, apperrors.Wrap(err, apperrors.DatabaseError, "failed to begin initialize transaction")
	}
	defer tx.Rollback()

	var result InitResult
	for _, r := range regions {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO batch_checkpoint (batch_name, region_type, region_code, region_name, parent_code, status, processed_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'PENDING', 0, NOW(), NOW())
			ON CONFLICT (batch_name, region_type, region_code) DO NOTHING
		`, batchName, regionType, r.Code, r.Name, r.ParentCode)
		if err != nil {
			return InitResult{}, apperrors.Wrap(err, apperrors.DatabaseError, "failed to insert checkpoint row")
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return InitResult{}, apperrors.Wrap(err, apperrors.DatabaseError, "failed to commit initialize transaction")
	}
	span.SetAttributes(attribute.Int("checkpoint.inserted", result.Inserted), attribute.Int("checkpoint.skipped", result.Skipped))
	return result, nil
}

// StartExecution opens a new BatchExecution row. Returns a ConcurrentExecution
// AppError if a RUNNING execution already exists for batchName.
func (s *Store) StartExecution(ctx context.Context, batchName string) (*models.BatchExecution, error) {
	tracer := otel.Tracer("runner/checkpoint")
	ctx, span := tracer.Start(ctx, "Store.StartExecution", oteltrace.WithAttributes(
		attribute.String("checkpoint.batch_name", batchName),
	))
	defer span.End()

	var running int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM batch_execution_metadata WHERE batch_name = $1 AND status = 'RUNNING'
	`, batchName).Scan(&running)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DatabaseError, "failed to check for running executions")
	}
	if running > 0 {
		return nil, apperrors.New(apperrors.ConcurrentExecutionError, fmt.Sprintf("execution already running for batch %q", batchName))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_checkpoint WHERE batch_name = $1`, batchName).Scan(&total); err != nil {
		return nil, apperrors.Wrap(err, apperrors.DatabaseError, "failed to count regions for batch")
	}

	exec := &models.BatchExecution{
		ExecutionID:  newExecutionID(),
		BatchName:    batchName,
		Status:       models.ExecutionRunning,
		TotalRegions: total,
		StartTime:    time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_execution_metadata (execution_id, batch_name, status, total_regions, completed_regions, failed_regions, start_time)
		VALUES ($1, $2, $3, $4, 0, 0, $5)
	`, exec.ExecutionID, exec.BatchName, exec.Status, exec.TotalRegions, exec.StartTime)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DatabaseError, "failed to insert batch execution")
	}
	return exec, nil
}

// NextPending atomically claims one PENDING region for the batch, ordered by
// region_code ascending, transitioning it to PROCESSING. Returns nil, nil if
// none remain.
func (s *Store) NextPending(ctx context.Context, batchName string, regionType models.RegionTier) (*models.RegionCheckpoint, error) {
	tracer := otel.Tracer("runner/checkpoint")
	ctx, span := tracer.Start(ctx, "Store.NextPending", oteltrace.WithAttributes(
		attribute.String("checkpoint.batch_name", batchName),
	))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DatabaseError, "failed to begin next_pending transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, batch_name, region_type, region_code, region_name, parent_code, status, processed_count, error_message, start_time, end_time, created_at, updated_at
		FROM batch_checkpoint
		WHERE batch_name = $1 AND region_type = $2 AND status = 'PENDING'
		ORDER BY region_code ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, batchName, regionType)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DatabaseError, "failed to select next pending checkpoint")
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE batch_checkpoint SET status = 'PROCESSING', start_time = $2, updated_at = NOW() WHERE id = $1
	`, cp.ID, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DatabaseError, "failed to claim checkpoint")
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.DatabaseError, "failed to commit next_pending transaction")
	}

	cp.Status = models.CheckpointProcessing
	cp.StartTime = &now
	span.SetAttributes(attribute.String("checkpoint.region_code", cp.RegionCode))
	return cp, nil
}

// MarkCompleted transitions a checkpoint row to COMPLETED and bumps the
// owning execution's completed_regions counter.
func (s *Store) MarkCompleted(ctx context.Context, id int64, processedCount int) error {
	tracer := otel.Tracer("runner/checkpoint")
	ctx, span := tracer.Start(ctx, "Store.MarkCompleted", oteltrace.WithAttributes(attribute.Int64("checkpoint.id", id)))
	defer span.End()

	batchName, err := s.transition(ctx, id, "COMPLETED", processedCount, "")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE batch_execution_metadata SET completed_regions = completed_regions + 1
		WHERE batch_name = $1 AND status = 'RUNNING'
	`, batchName)
	if err != nil {
		return apperrors.Wrap(err, apperrors.DatabaseError, "failed to bump completed_regions")
	}
	return nil
}

// MarkFailed transitions a checkpoint row to FAILED, storing a truncated
// error message, and bumps the owning execution's failed_regions counter.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	tracer := otel.Tracer("runner/checkpoint")
	ctx, span := tracer.Start(ctx, "Store.MarkFailed", oteltrace.WithAttributes(attribute.Int64("checkpoint.id", id)))
	defer span.End()

	if len(message) > errorMessageMaxLen {
		message = message[:errorMessageMaxLen]
	}
	batchName, err := s.transition(ctx, id, "FAILED", -1, message)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE batch_execution_metadata SET failed_regions = failed_regions + 1
		WHERE batch_name = $1 AND status = 'RUNNING'
	`, batchName)
	if err != nil {
		return apperrors.Wrap(err, apperrors.DatabaseError, "failed to bump failed_regions")
	}
	return nil
}

func (s *Store) transition(ctx context.Context, id int64, status string, processedCount int, errMsg string) (batchName string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.DatabaseError, "failed to begin transition transaction")
	}
	defer tx.Rollback()

	var query string
	var args []interface{}
	switch {
	case processedCount >= 0 && errMsg == "":
		query = `UPDATE batch_checkpoint SET status = $2, processed_count = $3, end_time = NOW(), updated_at = NOW() WHERE id = $1 RETURNING batch_name`
		args = []interface{}{id, status, processedCount}
	default:
		query = `UPDATE batch_checkpoint SET status = $2, error_message = $3, end_time = NOW(), updated_at = NOW() WHERE id = $1 RETURNING batch_name`
		args = []interface{}{id, status, errMsg}
	}

	if err := tx.QueryRowContext(ctx, query, args...).Scan(&batchName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperrors.NewNotFoundError(fmt.Sprintf("checkpoint %d", id))
		}
		return "", apperrors.Wrap(err, apperrors.DatabaseError, "failed to transition checkpoint")
	}
	if err := tx.Commit(); err != nil {
		return "", apperrors.Wrap(err, apperrors.DatabaseError, "failed to commit transition transaction")
	}
	return batchName, nil
}

// FinishExecution closes a BatchExecution with a terminal status, refreshing
// its region counters from the checkpoint table so the ledger row is
// self-contained even when per-region counter bumps raced.
func (s *Store) FinishExecution(ctx context.Context, executionID string, status models.ExecutionStatus) error {
	tracer := otel.Tracer("runner/checkpoint")
	ctx, span := tracer.Start(ctx, "Store.FinishExecution", oteltrace.WithAttributes(
		attribute.String("checkpoint.execution_id", executionID),
		attribute.String("checkpoint.status", string(status)),
	))
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		UPDATE batch_execution_metadata e SET
			status = $2,
			end_time = NOW(),
			completed_regions = (SELECT COUNT(*) FROM batch_checkpoint c WHERE c.batch_name = e.batch_name AND c.status = 'COMPLETED'),
			failed_regions = (SELECT COUNT(*) FROM batch_checkpoint c WHERE c.batch_name = e.batch_name AND c.status = 'FAILED')
		WHERE execution_id = $1 AND status = 'RUNNING'
	`, executionID, status)
	if err != nil {
		return apperrors.Wrap(err, apperrors.DatabaseError, "failed to finish batch execution")
	}
	return nil
}

// Progress summarizes a batch's checkpoint rows.
func (s *Store) Progress(ctx context.Context, batchName string) (models.Progress, error) {
	tracer := otel.Tracer("runner/checkpoint")
	ctx, span := tracer.Start(ctx, "Store.Progress", oteltrace.WithAttributes(attribute.String("checkpoint.batch_name", batchName)))
	defer span.End()

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'PROCESSING'),
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM batch_checkpoint WHERE batch_name = $1
	`, batchName)

	var p models.Progress
	p.BatchName = batchName
	if err := row.Scan(&p.Total, &p.Pending, &p.Processing, &p.Completed, &p.Failed); err != nil {
		return models.Progress{}, apperrors.Wrap(err, apperrors.DatabaseError, "failed to compute progress")
	}
	if p.Total > 0 {
		p.PercentPct = float64(p.Completed) / float64(p.Total) * 100
	}
	return p, nil
}

// HasInterrupted reports whether the latest execution for batchName looks
// like it was interrupted: it is RUNNING with outstanding PENDING or
// PROCESSING rows, or left PROCESSING rows behind from a crash.
func (s *Store) HasInterrupted(ctx context.Context, batchName string) (bool, error) {
	tracer := otel.Tracer("runner/checkpoint")
	ctx, span := tracer.Start(ctx, "Store.HasInterrupted", oteltrace.WithAttributes(attribute.String("checkpoint.batch_name", batchName)))
	defer span.End()

	var processing, pending int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PROCESSING'),
			COUNT(*) FILTER (WHERE status = 'PENDING')
		FROM batch_checkpoint WHERE batch_name = $1
	`, batchName).Scan(&processing, &pending)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.DatabaseError, "failed to check for interrupted checkpoints")
	}
	if processing > 0 {
		return true, nil
	}

	var runningExecs int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM batch_execution_metadata WHERE batch_name = $1 AND status = 'RUNNING'
	`, batchName).Scan(&runningExecs); err != nil {
		return false, apperrors.Wrap(err, apperrors.DatabaseError, "failed to check for running executions")
	}
	return runningExecs > 0 && pending > 0, nil
}

// ResumeInterrupted resets any PROCESSING rows for batchName back to PENDING
// and marks any stale RUNNING execution as INTERRUPTED. The region-sweep
// factory calls it when it opens an execution with CHECKPOINT_AUTO_RESUME
// enabled, and POST /admin/jobs/:id/republish calls it on demand.
func (s *Store) ResumeInterrupted(ctx context.Context, batchName string) (resetCount int, err error) {
	tracer := otel.Tracer("runner/checkpoint")
	ctx, span := tracer.Start(ctx, "Store.ResumeInterrupted", oteltrace.WithAttributes(attribute.String("checkpoint.batch_name", batchName)))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.DatabaseError, "failed to begin resume transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE batch_checkpoint SET status = 'PENDING', start_time = NULL, updated_at = NOW()
		WHERE batch_name = $1 AND status = 'PROCESSING'
	`, batchName)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.DatabaseError, "failed to reset processing checkpoints")
	}
	n, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		UPDATE batch_execution_metadata SET status = 'INTERRUPTED', end_time = NOW()
		WHERE batch_name = $1 AND status = 'RUNNING'
	`, batchName)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.DatabaseError, "failed to mark execution interrupted")
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.DatabaseError, "failed to commit resume transaction")
	}
	span.SetAttributes(attribute.Int("checkpoint.reset_count", int(n)))
	return int(n), nil
}

// ResetFailed is the operator-triggered manual escape hatch: the only path
// by which a FAILED row re-enters the pipeline.
func (s *Store) ResetFailed(ctx context.Context, batchName string, regionCodes ...string) (int, error) {
	tracer := otel.Tracer("runner/checkpoint")
	ctx, span := tracer.Start(ctx, "Store.ResetFailed", oteltrace.WithAttributes(
		attribute.String("checkpoint.batch_name", batchName),
		attribute.Int("checkpoint.region_count", len(regionCodes)),
	))
	defer span.End()

	if len(regionCodes) == 0 {
		return 0, apperrors.NewValidationError("region_codes must not be empty")
	}

	query := `
		UPDATE batch_checkpoint
		SET status = 'PENDING', error_message = '', start_time = NULL, end_time = NULL, updated_at = NOW()
		WHERE batch_name = $1 AND status = 'FAILED' AND region_code = ANY($2)
	`
	res, err := s.db.ExecContext(ctx, query, batchName, regionCodes)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.DatabaseError, "failed to reset failed checkpoints")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanCheckpoint(row *sql.Row) (*models.RegionCheckpoint, error) {
	var cp models.RegionCheckpoint
	var parentCode, errMsg sql.NullString
	var startTime, endTime sql.NullTime
	if err := row.Scan(
		&cp.ID, &cp.BatchName, &cp.RegionType, &cp.RegionCode, &cp.RegionName, &parentCode,
		&cp.Status, &cp.ProcessedCount, &errMsg, &startTime, &endTime, &cp.CreatedAt, &cp.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cp.ParentCode = parentCode.String
	cp.ErrorMessage = errMsg.String
	if startTime.Valid {
		cp.StartTime = &startTime.Time
	}
	if endTime.Valid {
		cp.EndTime = &endTime.Time
	}
	return &cp, nil
}
