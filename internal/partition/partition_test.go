package partition

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignment_DisjointAndComplete(t *testing.T) {
	// Every id in 1..9 belongs to exactly one of 3 workers, and the
	// per-worker slices match the modulo layout.
	const totalWorkers = 3
	owners := map[int64][]int{}
	for id := int64(1); id <= 9; id++ {
		for w := 0; w < totalWorkers; w++ {
			owned, err := Assignment(id, totalWorkers, w)
			require.NoError(t, err)
			if owned {
				owners[id] = append(owners[id], w)
			}
		}
	}
	for id := int64(1); id <= 9; id++ {
		require.Len(t, owners[id], 1, "id %d must have exactly one owner", id)
	}
	assert.Equal(t, []int{0}, owners[3])
	assert.Equal(t, []int{0}, owners[6])
	assert.Equal(t, []int{0}, owners[9])
	assert.Equal(t, []int{1}, owners[1])
	assert.Equal(t, []int{1}, owners[4])
	assert.Equal(t, []int{1}, owners[7])
	assert.Equal(t, []int{2}, owners[2])
	assert.Equal(t, []int{2}, owners[5])
	assert.Equal(t, []int{2}, owners[8])
}

func TestAssignment_RejectsBadWorkerConfig(t *testing.T) {
	_, err := Assignment(1, 0, 0)
	require.Error(t, err)

	_, err = Assignment(1, 3, 3)
	require.Error(t, err)

	_, err = Assignment(1, 3, -1)
	require.Error(t, err)

	_, err = Assignment(-1, 3, 0)
	require.Error(t, err)
}

func TestNewReader_RejectsOutOfRangeWorker(t *testing.T) {
	_, err := NewReader(nil, "places", "id", "", 3, 5, 100)
	require.Error(t, err)

	_, err = NewReader(nil, "places", "id", "", 0, 0, 100)
	require.Error(t, err)
}

func TestReaderNext_PagesKeysetWithPartitionPredicate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	r, err := NewReader(db, "places", "id", "crawl_status = 'PENDING'", 3, 1, 2)
	require.NoError(t, err)

	// First page: reader asks for pageSize+1 rows to detect more.
	mock.ExpectQuery(`SELECT id FROM places WHERE id > \$1 AND \(id % \$2\) = \$3 AND crawl_status = 'PENDING' ORDER BY id ASC LIMIT \$4`).
		WithArgs(int64(0), 3, 1, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(4).AddRow(7))

	page, err := r.Next(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, page.IDs)
	assert.Equal(t, int64(4), page.NextCursor)
	assert.True(t, page.HasMore)

	// Final page under the limit.
	mock.ExpectQuery(`SELECT id FROM places WHERE id > \$1 AND \(id % \$2\) = \$3 AND crawl_status = 'PENDING' ORDER BY id ASC LIMIT \$4`).
		WithArgs(int64(4), 3, 1, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	page, err = r.Next(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, page.IDs)
	assert.False(t, page.HasMore)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebalance_ReportsNewOwner(t *testing.T) {
	// id 7 belongs to worker 1 of 3; after scaling to 4 workers it moves to
	// worker 3.
	owned, movedTo, err := Rebalance(7, 3, 4, 1)
	require.NoError(t, err)
	assert.False(t, owned)
	assert.Equal(t, 3, movedTo)

	// id 4 of worker 0-of-4 stays put.
	owned, movedTo, err = Rebalance(4, 4, 4, 0)
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, 0, movedTo)
}
