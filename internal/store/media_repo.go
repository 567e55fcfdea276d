package store

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// MediaRepo persists the media-download collaborator's results.
type MediaRepo struct {
	DB *sql.DB
}

// NewMediaRepo builds a MediaRepo over db.
func NewMediaRepo(db *sql.DB) *MediaRepo {
	return &MediaRepo{DB: db}
}

// Insert records a successfully fetched media asset.
func (r *MediaRepo) Insert(ctx context.Context, asset *models.MediaAsset) error {
	tracer := otel.Tracer("runner/store/media")
	ctx, span := tracer.Start(ctx, "MediaRepo.Insert", oteltrace.WithAttributes(
		attribute.Int64("place.id", asset.PlaceID),
		attribute.String("media.storage_key", asset.StorageKey),
	))
	defer span.End()

	if asset.FetchedAt.IsZero() {
		asset.FetchedAt = time.Now().UTC()
	}

	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO media_assets (place_id, source_url, storage_key, content_type, bytes, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, asset.PlaceID, asset.SourceURL, asset.StorageKey, asset.ContentType, asset.Bytes, asset.FetchedAt).Scan(&asset.ID)
	if err != nil {
		return apperrors.NewDatabaseError(err)
	}
	return nil
}

// ListByPlace returns every media asset fetched for a place.
func (r *MediaRepo) ListByPlace(ctx context.Context, placeID int64) ([]models.MediaAsset, error) {
	tracer := otel.Tracer("runner/store/media")
	ctx, span := tracer.Start(ctx, "MediaRepo.ListByPlace", oteltrace.WithAttributes(
		attribute.Int64("place.id", placeID),
	))
	defer span.End()

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, place_id, source_url, storage_key, content_type, bytes, fetched_at
		FROM media_assets
		WHERE place_id = $1
		ORDER BY id ASC
	`, placeID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	defer rows.Close()

	var assets []models.MediaAsset
	for rows.Next() {
		var a models.MediaAsset
		if err := rows.Scan(&a.ID, &a.PlaceID, &a.SourceURL, &a.StorageKey, &a.ContentType, &a.Bytes, &a.FetchedAt); err != nil {
			return nil, apperrors.NewDatabaseError(err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return assets, nil
}
