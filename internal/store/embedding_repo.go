package store

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// EmbeddingRepo persists embedding vectors keyed by (place_id, keyword_ordinal).
type EmbeddingRepo struct {
	DB *sql.DB
}

func NewEmbeddingRepo(db *sql.DB) *EmbeddingRepo {
	return &EmbeddingRepo{DB: db}
}

// UpsertVectorsTx writes every vector for one place inside an existing
// transaction, so the caller can commit them atomically with the place's
// embed_status flip.
func (r *EmbeddingRepo) UpsertVectorsTx(ctx context.Context, tx *sql.Tx, vectors []models.EmbeddingVector) error {
	tracer := otel.Tracer("runner/store/embeddings")
	ctx, span := tracer.Start(ctx, "EmbeddingRepo.UpsertVectorsTx", oteltrace.WithAttributes())
	defer span.End()

	for _, v := range vectors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embedding_vectors (place_id, keyword_ordinal, keyword, vector, created_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (place_id, keyword_ordinal)
			DO UPDATE SET keyword = EXCLUDED.keyword, vector = EXCLUDED.vector, created_at = NOW()
		`, v.PlaceID, v.KeywordOrdinal, v.Keyword, vectorToPQ(v.Vector))
		if err != nil {
			return apperrors.NewDatabaseError(err)
		}
	}
	return nil
}

// ListByPlace returns every persisted vector for a place, ordered by ordinal.
func (r *EmbeddingRepo) ListByPlace(ctx context.Context, placeID int64) ([]models.EmbeddingVector, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT place_id, keyword_ordinal, keyword, vector, created_at
		FROM embedding_vectors WHERE place_id = $1 ORDER BY keyword_ordinal ASC
	`, placeID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	defer rows.Close()

	var out []models.EmbeddingVector
	for rows.Next() {
		var v models.EmbeddingVector
		var vec pqFloatArray
		if err := rows.Scan(&v.PlaceID, &v.KeywordOrdinal, &v.Keyword, &vec, &v.CreatedAt); err != nil {
			return nil, apperrors.NewDatabaseError(err)
		}
		v.Vector = []float32(vec)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return out, nil
}

// pqFloatArray adapts []float32 to a Postgres real[] column via pgx's native
// slice parameter support, without pulling in lib/pq.
type pqFloatArray []float32

func vectorToPQ(v []float32) pqFloatArray { return pqFloatArray(v) }

func (a *pqFloatArray) Scan(src interface{}) error {
	// pgx's stdlib driver decodes real[] into []float32 directly when the
	// destination type implements sql.Scanner is not required; this Scan
	// exists only so callers can pass &pqFloatArray{} through database/sql
	// generically. Delegate to the driver's native conversion.
	switch s := src.(type) {
	case []float32:
		*a = s
		return nil
	case nil:
		*a = nil
		return nil
	default:
		return apperrors.New(apperrors.DatabaseError, "unsupported vector scan source type")
	}
}
