// Package partition assigns database rows to workers and pages through a
// table using keyset pagination instead of offset pagination.
package partition

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
)

// Assignment decides whether a given row id belongs to worker workerID out
// of totalWorkers workers, using simple modulo partitioning. Worker ids are
// zero-based.
func Assignment(id int64, totalWorkers, workerID int) (bool, error) {
	if totalWorkers <= 0 {
		return false, apperrors.New(apperrors.ConfigError, "total_workers must be positive")
	}
	if workerID < 0 || workerID >= totalWorkers {
		return false, apperrors.New(apperrors.ConfigError, fmt.Sprintf("worker_id %d out of range [0,%d)", workerID, totalWorkers))
	}
	if id < 0 {
		return false, apperrors.NewValidationError("id must be non-negative")
	}
	return id%int64(totalWorkers) == int64(workerID), nil
}

// Page is one keyset page read from the underlying table.
type Page struct {
	IDs        []int64
	NextCursor int64
	HasMore    bool
}

// Reader pages through a table's primary key space with keyset pagination,
// scoped to the rows owned by one worker.
type Reader struct {
	db           *sql.DB
	table        string
	idColumn     string
	whereClause  string // optional extra predicate, e.g. "crawl_status = 'PENDING'"
	totalWorkers int
	workerID     int
	pageSize     int
}

// NewReader builds a partition-aware keyset reader. whereClause may be empty.
func NewReader(db *sql.DB, table, idColumn, whereClause string, totalWorkers, workerID, pageSize int) (*Reader, error) {
	if totalWorkers <= 0 {
		return nil, apperrors.New(apperrors.ConfigError, "total_workers must be positive")
	}
	if workerID < 0 || workerID >= totalWorkers {
		return nil, apperrors.New(apperrors.ConfigError, fmt.Sprintf("worker_id %d out of range [0,%d)", workerID, totalWorkers))
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Reader{
		db:           db,
		table:        table,
		idColumn:     idColumn,
		whereClause:  whereClause,
		totalWorkers: totalWorkers,
		workerID:     workerID,
		pageSize:     pageSize,
	}, nil
}

// Next returns up to pageSize ids greater than cursor that belong to this
// worker's partition, ordered ascending. Pass cursor=0 to start at the
// beginning of the keyspace.
func (r *Reader) Next(ctx context.Context, cursor int64) (Page, error) {
	tracer := otel.Tracer("runner/partition")
	ctx, span := tracer.Start(ctx, "Reader.Next", oteltrace.WithAttributes(
		attribute.Int64("partition.cursor", cursor),
		attribute.Int("partition.worker_id", r.workerID),
		attribute.Int("partition.total_workers", r.totalWorkers),
	))
	defer span.End()

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s > $1 AND (%s %% $2) = $3`,
		r.idColumn, r.table, r.idColumn, r.idColumn,
	)
	if r.whereClause != "" {
		query += " AND " + r.whereClause
	}
	query += fmt.Sprintf(" ORDER BY %s ASC LIMIT $4", r.idColumn)

	rows, err := r.db.QueryContext(ctx, query, cursor, r.totalWorkers, r.workerID, r.pageSize+1)
	if err != nil {
		return Page{}, apperrors.Wrap(err, apperrors.DatabaseError, "failed to page partition keyset")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return Page{}, apperrors.Wrap(err, apperrors.DatabaseError, "failed to scan partition row")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return Page{}, apperrors.Wrap(err, apperrors.DatabaseError, "error iterating partition rows")
	}

	hasMore := len(ids) > r.pageSize
	if hasMore {
		ids = ids[:r.pageSize]
	}
	next := cursor
	if len(ids) > 0 {
		next = ids[len(ids)-1]
	}
	span.SetAttributes(attribute.Int("partition.rows", len(ids)))
	return Page{IDs: ids, NextCursor: next, HasMore: hasMore}, nil
}

// Rebalance recomputes worker ownership for an id after total_workers
// changes. Callers use this to decide whether an in-flight item must be
// handed off to a different worker on the next run.
func Rebalance(id int64, oldTotal, newTotal, workerID int) (owned bool, movedTo int, err error) {
	ownedOld, err := Assignment(id, oldTotal, workerID)
	if err != nil {
		return false, 0, err
	}
	newOwner := int(id % int64(newTotal))
	ownedNew := newOwner == workerID
	if ownedOld && !ownedNew {
		return false, newOwner, nil
	}
	return ownedNew, newOwner, nil
}
