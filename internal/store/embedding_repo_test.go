package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func TestUpsertVectorsTx_WritesEachVector(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := NewEmbeddingRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO embedding_vectors").
		WithArgs(int64(1), 0, "Cafe One", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO embedding_vectors").
		WithArgs(int64(1), 1, "cafe", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error beginning tx: %v", err)
	}

	vectors := []models.EmbeddingVector{
		{PlaceID: 1, KeywordOrdinal: 0, Keyword: "Cafe One", Vector: []float32{0.1}},
		{PlaceID: 1, KeywordOrdinal: 1, Keyword: "cafe", Vector: []float32{0.2}},
	}
	if err := repo.UpsertVectorsTx(context.Background(), tx, vectors); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
