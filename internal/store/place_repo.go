package store

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// PlaceRepo provides persistence operations for the places table, the
// collaborator-owned entity crawl/embed status transitions are recorded on.
type PlaceRepo struct {
	DB *sql.DB
}

func NewPlaceRepo(db *sql.DB) *PlaceRepo {
	return &PlaceRepo{DB: db}
}

// ListPendingEmbedding returns places eligible for embedding (crawl_status
// COMPLETED, embed_status PENDING) in ascending id order, keyset-paginated
// after cursor. Returns fewer than n rows (including zero) at end of stream.
func (r *PlaceRepo) ListPendingEmbedding(ctx context.Context, cursor int64, n int) ([]models.Place, int64, error) {
	tracer := otel.Tracer("runner/store/places")
	ctx, span := tracer.Start(ctx, "PlaceRepo.ListPendingEmbedding", oteltrace.WithAttributes(
		attribute.Int64("cursor", cursor),
		attribute.Int("limit", n),
	))
	defer span.End()

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, name, category, address, latitude, longitude, crawl_status, embed_status, created_at, updated_at
		FROM places
		WHERE id > $1 AND crawl_status = $2 AND embed_status = $3
		ORDER BY id ASC
		LIMIT $4
	`, cursor, models.CrawlCompleted, models.EmbedPending, n)
	if err != nil {
		return nil, cursor, apperrors.NewDatabaseError(err)
	}
	defer rows.Close()

	var places []models.Place
	var maxID int64 = cursor
	for rows.Next() {
		var p models.Place
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Address, &p.Latitude, &p.Longitude, &p.CrawlStatus, &p.EmbedStatus, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, cursor, apperrors.NewDatabaseError(err)
		}
		places = append(places, p)
		if p.ID > maxID {
			maxID = p.ID
		}
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, apperrors.NewDatabaseError(err)
	}
	return places, maxID, nil
}

// ListIDsByCrawlStatus returns every place id with the given crawl status,
// ascending. Used by push_all staging and the admin CLI; bounded workloads
// only, the chunked readers page instead.
func (r *PlaceRepo) ListIDsByCrawlStatus(ctx context.Context, status models.CrawlStatus) ([]int64, error) {
	tracer := otel.Tracer("runner/store/places")
	ctx, span := tracer.Start(ctx, "PlaceRepo.ListIDsByCrawlStatus", oteltrace.WithAttributes(attribute.String("place.crawl_status", string(status))))
	defer span.End()

	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM places WHERE crawl_status = $1 ORDER BY id ASC`, status)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewDatabaseError(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByID returns a single place by id.
func (r *PlaceRepo) GetByID(ctx context.Context, id int64) (*models.Place, error) {
	tracer := otel.Tracer("runner/store/places")
	ctx, span := tracer.Start(ctx, "PlaceRepo.GetByID", oteltrace.WithAttributes(attribute.Int64("place.id", id)))
	defer span.End()

	var p models.Place
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, name, category, address, latitude, longitude, crawl_status, embed_status, created_at, updated_at
		FROM places WHERE id = $1
	`, id)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Address, &p.Latitude, &p.Longitude, &p.CrawlStatus, &p.EmbedStatus, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFoundError("place")
		}
		return nil, apperrors.NewDatabaseError(err)
	}
	return &p, nil
}

// SetCrawlStatus transitions a place's crawl_status (used by the modulo-crawl
// engine kind's writer).
func (r *PlaceRepo) SetCrawlStatus(ctx context.Context, id int64, status models.CrawlStatus) error {
	tracer := otel.Tracer("runner/store/places")
	ctx, span := tracer.Start(ctx, "PlaceRepo.SetCrawlStatus", oteltrace.WithAttributes(
		attribute.Int64("place.id", id), attribute.String("place.crawl_status", string(status)),
	))
	defer span.End()
	_, err := r.DB.ExecContext(ctx, `UPDATE places SET crawl_status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return apperrors.NewDatabaseError(err)
	}
	return nil
}

// SetEmbedStatusTx transitions a place's embed_status inside an existing
// transaction; the embedding writer uses this to commit the status flip in
// the same transaction as the vectors it persisted.
func (r *PlaceRepo) SetEmbedStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.EmbedStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE places SET embed_status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return apperrors.NewDatabaseError(err)
	}
	return nil
}

// UpdateFields overwrites the collaborator-owned descriptive fields of a
// place, used by the update-queue consumer after a menus/reviews refresh.
func (r *PlaceRepo) UpdateFields(ctx context.Context, id int64, category, address string, latitude, longitude float64) error {
	tracer := otel.Tracer("runner/store/places")
	ctx, span := tracer.Start(ctx, "PlaceRepo.UpdateFields", oteltrace.WithAttributes(attribute.Int64("place.id", id)))
	defer span.End()
	_, err := r.DB.ExecContext(ctx, `
		UPDATE places SET category = $1, address = $2, latitude = $3, longitude = $4, updated_at = NOW()
		WHERE id = $5
	`, category, address, latitude, longitude, id)
	if err != nil {
		return apperrors.NewDatabaseError(err)
	}
	return nil
}

// SetCountryCode records the origin country resolved from a place's source
// listing host. Empty codes are never written; an unresolvable host leaves
// the previous value in place.
func (r *PlaceRepo) SetCountryCode(ctx context.Context, id int64, code string) error {
	tracer := otel.Tracer("runner/store/places")
	ctx, span := tracer.Start(ctx, "PlaceRepo.SetCountryCode", oteltrace.WithAttributes(attribute.Int64("place.id", id)))
	defer span.End()
	_, err := r.DB.ExecContext(ctx, `UPDATE places SET country_code = $1, updated_at = NOW() WHERE id = $2`, code, id)
	if err != nil {
		return apperrors.NewDatabaseError(err)
	}
	return nil
}

// Insert creates a new place row discovered by a region sweep, returning its
// assigned id. crawl_status starts COMPLETED since the row is seeded
// directly from the crawl collaborator's response; embed_status starts
// PENDING so the embedding pipeline picks it up on its next pass.
func (r *PlaceRepo) Insert(ctx context.Context, p *models.Place) (int64, error) {
	tracer := otel.Tracer("runner/store/places")
	ctx, span := tracer.Start(ctx, "PlaceRepo.Insert", oteltrace.WithAttributes(attribute.String("place.name", p.Name)))
	defer span.End()

	var id int64
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO places (name, category, address, latitude, longitude, crawl_status, embed_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id
	`, p.Name, p.Category, p.Address, p.Latitude, p.Longitude, models.CrawlCompleted, models.EmbedPending).Scan(&id)
	if err != nil {
		return 0, apperrors.NewDatabaseError(err)
	}
	return id, nil
}

// BeginTx starts a transaction for callers that need multi-statement
// atomicity across repos (e.g. the embedding writer).
func (r *PlaceRepo) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return tx, nil
}
