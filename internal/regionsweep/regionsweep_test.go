package regionsweep

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamie-anson/placeflow-ingestor/internal/checkpoint"
	"github.com/jamie-anson/placeflow-ingestor/internal/external"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func newMockStore(t *testing.T) (*checkpoint.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return checkpoint.New(db), mock
}

func checkpointCols() []string {
	return []string{"id", "batch_name", "region_type", "region_code", "region_name", "parent_code", "status", "processed_count", "error_message", "start_time", "end_time", "created_at", "updated_at"}
}

func expectClaim(mock sqlmock.Sqlmock, id int64, code, name string) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM batch_checkpoint .* FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows(checkpointCols()).
			AddRow(id, "batch-1", "sido", code, name, nil, "PENDING", 0, nil, nil, nil, time.Now(), time.Now()))
	mock.ExpectExec(`UPDATE batch_checkpoint SET status = 'PROCESSING'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func expectNoClaim(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM batch_checkpoint`).
		WillReturnRows(sqlmock.NewRows(checkpointCols()))
	mock.ExpectRollback()
}

func TestReader_Read_ClaimsUpToNPendingRegions(t *testing.T) {
	cps, mock := newMockStore(t)
	expectClaim(mock, 1, "11", "서울특별시")
	expectClaim(mock, 2, "26", "부산광역시")
	expectNoClaim(mock)

	r := NewReader(cps, "batch-1", models.RegionSido)
	items, cursor, err := r.Read(context.Background(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)
	require.Len(t, items, 2)
	assert.Equal(t, "11", items[0].(*models.RegionCheckpoint).RegionCode)
	assert.Equal(t, "26", items[1].(*models.RegionCheckpoint).RegionCode)
}

func TestWriter_Write_InsertsPlaceAndCompletesCheckpoint(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO places`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(31))
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE batch_checkpoint SET status = \$2, processed_count = \$3`).
		WithArgs(int64(5), "COMPLETED", 1).
		WillReturnRows(sqlmock.NewRows([]string{"batch_name"}).AddRow("batch-1"))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE batch_execution_metadata SET completed_regions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := NewWriter(checkpoint.New(db), store.NewPlaceRepo(db))
	err = w.Write(context.Background(), []interface{}{
		&Result{
			Checkpoint: &models.RegionCheckpoint{ID: 5, RegionCode: "11"},
			Place:      &models.Place{Name: "서울특별시"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactory_Build_RejectsWrongJobName(t *testing.T) {
	cps, _ := newMockStore(t)
	f := NewFactory(cps, nil, external.NewCrawlerClient("http://127.0.0.1:1"), "batch-1", models.RegionSido, nil, false, 10, 50, 3)
	_, _, err := f.Build(context.Background(), "modulo-crawl", 0)
	require.Error(t, err)
}

func TestFactory_ExecutionLifecycle_LastWorkerCloses(t *testing.T) {
	cps, mock := newMockStore(t)

	// First join opens the execution.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_execution_metadata`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_checkpoint`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO batch_execution_metadata`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// Only the last leave closes it.
	mock.ExpectExec(`UPDATE batch_execution_metadata e SET`).
		WithArgs(sqlmock.AnyArg(), models.ExecutionCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f := NewFactory(cps, nil, nil, "batch-1", models.RegionSido, nil, false, 10, 50, 3)

	require.NoError(t, f.joinExecution(context.Background()))
	require.NoError(t, f.joinExecution(context.Background())) // second worker joins, no new ledger row

	f.leaveExecution(context.Background(), false, false)
	f.leaveExecution(context.Background(), false, false)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactory_ExecutionLifecycle_FailureWinsOverStop(t *testing.T) {
	cps, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_execution_metadata`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_checkpoint`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO batch_execution_metadata`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE batch_execution_metadata e SET`).
		WithArgs(sqlmock.AnyArg(), models.ExecutionFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f := NewFactory(cps, nil, nil, "batch-1", models.RegionSido, nil, false, 10, 50, 3)

	require.NoError(t, f.joinExecution(context.Background()))
	require.NoError(t, f.joinExecution(context.Background()))

	f.leaveExecution(context.Background(), false, true) // one worker stopped
	f.leaveExecution(context.Background(), true, false) // one worker failed

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCatalog_BuiltinSidoTier(t *testing.T) {
	regions, err := LoadCatalog("", models.RegionSido)
	require.NoError(t, err)
	assert.Len(t, regions, 17)
	for _, r := range regions {
		assert.Equal(t, models.RegionSido, r.Tier)
		assert.NotEmpty(t, r.Code)
		assert.NotEmpty(t, r.Name)
	}
}

func TestLoadCatalog_FinerTierRequiresFile(t *testing.T) {
	_, err := LoadCatalog("", models.RegionSigungu)
	require.Error(t, err)
}

func TestLoadCatalog_FiltersByTier(t *testing.T) {
	path := t.TempDir() + "/catalog.json"
	payload := `[
		{"code": "11110", "name": "종로구", "tier": "sigungu", "parent_code": "11"},
		{"code": "11", "name": "서울특별시", "tier": "sido"}
	]`
	require.NoError(t, writeFile(path, payload))

	regions, err := LoadCatalog(path, models.RegionSigungu)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "11110", regions[0].Code)
	assert.Equal(t, "11", regions[0].ParentCode)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
