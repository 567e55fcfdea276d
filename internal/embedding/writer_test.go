package embedding

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func TestWriter_Write_CommitsVectorsAndStatusPerPlace(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	places := store.NewPlaceRepo(db)
	embeddings := store.NewEmbeddingRepo(db)
	w := NewWriter(places, embeddings)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO embedding_vectors").
		WithArgs(int64(7), 0, "Cafe Seven", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE places SET embed_status = ").
		WithArgs(models.EmbedCompleted, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res := &Result{
		Place: &models.Place{ID: 7, Name: "Cafe Seven"},
		Vectors: []models.EmbeddingVector{
			{PlaceID: 7, KeywordOrdinal: 0, Keyword: "Cafe Seven", Vector: []float32{0.5}},
		},
	}
	if err := w.Write(context.Background(), []interface{}{res}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
