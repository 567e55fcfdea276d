package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestInitialize_CountsInsertedAndSkipped(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectBegin()
	// Region A is new, region B already exists (ON CONFLICT DO NOTHING).
	mock.ExpectExec(`INSERT INTO batch_checkpoint`).
		WithArgs("batch-1", models.RegionSido, "11", "A", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO batch_checkpoint`).
		WithArgs("batch-1", models.RegionSido, "26", "B", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := store.Initialize(context.Background(), "batch-1", models.RegionSido, []models.Region{
		{Code: "11", Name: "A", Tier: models.RegionSido},
		{Code: "26", Name: "B", Tier: models.RegionSido},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Skipped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartExecution_RejectsConcurrentRun(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_execution_metadata`).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := store.StartExecution(context.Background(), "batch-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ConcurrentExecutionError))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartExecution_OpensLedgerRow(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_execution_metadata`).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_checkpoint`).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO batch_execution_metadata`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	exec, err := store.StartExecution(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", exec.BatchName)
	assert.Equal(t, models.ExecutionRunning, exec.Status)
	assert.Equal(t, 4, exec.TotalRegions)
	assert.NotEmpty(t, exec.ExecutionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextPending_ClaimsAndTransitions(t *testing.T) {
	store, mock := newStore(t)

	cols := []string{"id", "batch_name", "region_type", "region_code", "region_name", "parent_code", "status", "processed_count", "error_message", "start_time", "end_time", "created_at", "updated_at"}
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM batch_checkpoint .* FOR UPDATE SKIP LOCKED`).
		WithArgs("batch-1", models.RegionSido).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "batch-1", "sido", "11", "A", nil, "PENDING", 0, nil, nil, nil, time.Now(), time.Now()))
	mock.ExpectExec(`UPDATE batch_checkpoint SET status = 'PROCESSING'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cp, err := store.NextPending(context.Background(), "batch-1", models.RegionSido)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, models.CheckpointProcessing, cp.Status)
	assert.Equal(t, "11", cp.RegionCode)
	assert.NotNil(t, cp.StartTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextPending_EmptyReturnsNil(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM batch_checkpoint`).
		WithArgs("batch-1", models.RegionSido).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	cp, err := store.NextPending(context.Background(), "batch-1", models.RegionSido)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestMarkCompleted_TransitionsAndBumpsCounter(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE batch_checkpoint SET status = \$2, processed_count = \$3`).
		WithArgs(int64(7), "COMPLETED", 42).
		WillReturnRows(sqlmock.NewRows([]string{"batch_name"}).AddRow("batch-1"))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE batch_execution_metadata SET completed_regions = completed_regions \+ 1`).
		WithArgs("batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkCompleted(context.Background(), 7, 42))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed_TruncatesMessageAndBumpsCounter(t *testing.T) {
	store, mock := newStore(t)

	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE batch_checkpoint SET status = \$2, error_message = \$3`).
		WithArgs(int64(9), "FAILED", string(long[:2000])).
		WillReturnRows(sqlmock.NewRows([]string{"batch_name"}).AddRow("batch-1"))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE batch_execution_metadata SET failed_regions = failed_regions \+ 1`).
		WithArgs("batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkFailed(context.Background(), 9, string(long)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgress_ComputesPercent(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(`SELECT`).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "processing", "completed", "failed"}).
			AddRow(4, 1, 0, 3, 0))

	p, err := store.Progress(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, 3, p.Completed)
	assert.InDelta(t, 75.0, p.PercentPct, 0.001)
}

func TestHasInterrupted_ProcessingLeftoversMeanInterrupted(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(`SELECT`).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"processing", "pending"}).AddRow(1, 1))

	interrupted, err := store.HasInterrupted(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.True(t, interrupted)
}

func TestHasInterrupted_RunningExecutionWithPendingMeansInterrupted(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(`SELECT`).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"processing", "pending"}).AddRow(0, 2))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_execution_metadata`).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	interrupted, err := store.HasInterrupted(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.True(t, interrupted)
}

func TestHasInterrupted_CleanBatch(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(`SELECT`).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"processing", "pending"}).AddRow(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_execution_metadata`).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	interrupted, err := store.HasInterrupted(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.False(t, interrupted)
}

func TestResumeInterrupted_ResetsProcessingRows(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE batch_checkpoint SET status = 'PENDING'`).
		WithArgs("batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE batch_execution_metadata SET status = 'INTERRUPTED'`).
		WithArgs("batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reset, err := store.ResumeInterrupted(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, reset)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetFailed_RequiresRegionCodes(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.ResetFailed(context.Background(), "batch-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ValidationError))
}

func TestFinishExecution_ClosesRunningRow(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec(`UPDATE batch_execution_metadata e SET`).
		WithArgs("exec-1", models.ExecutionCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.FinishExecution(context.Background(), "exec-1", models.ExecutionCompleted))
	require.NoError(t, mock.ExpectationsWereMet())
}
