package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func TestMediaRepo_Insert_ReturnsGeneratedID(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := NewMediaRepo(db)

	mock.ExpectQuery("INSERT INTO media_assets").
		WithArgs(int64(3), "https://example.com/a.jpg", "cid123", "image/jpeg", int64(2048), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	asset := &models.MediaAsset{
		PlaceID:     3,
		SourceURL:   "https://example.com/a.jpg",
		StorageKey:  "cid123",
		ContentType: "image/jpeg",
		Bytes:       2048,
	}
	if err := repo.Insert(context.Background(), asset); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset.ID != 9 {
		t.Fatalf("expected generated id 9, got %d", asset.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMediaRepo_ListByPlace_ReturnsAssets(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := NewMediaRepo(db)

	mock.ExpectQuery("SELECT id, place_id, source_url, storage_key, content_type, bytes, fetched_at\\s+FROM media_assets").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "place_id", "source_url", "storage_key", "content_type", "bytes", "fetched_at",
		}).AddRow(int64(9), int64(3), "https://example.com/a.jpg", "cid123", "image/jpeg", int64(2048), time.Now()))

	assets, err := repo.ListByPlace(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assets) != 1 || assets[0].StorageKey != "cid123" {
		t.Fatalf("unexpected assets: %+v", assets)
	}
}
