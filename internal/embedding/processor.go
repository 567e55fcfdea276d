package embedding

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Result pairs one place with the vectors computed for its keywords, ready
// for the Writer to persist atomically with the embed_status transition.
type Result struct {
	Place   *models.Place
	Vectors []models.EmbeddingVector
}

// Processor groups up to KeywordLimit keyword strings per place into a
// single embedding call. Item-level exhaustion is tracked per place id
// across repeated engine retries of the same item, since the generic
// pipeline engine's retry loop carries no attempt-number callback: on the
// final retry the processor marks the place FAILED directly instead of
// leaving it PENDING forever.
type Processor struct {
	client       Client
	places       *store.PlaceRepo
	keywordLimit int
	maxAttempts  int

	mu       sync.Mutex
	attempts map[int64]int
}

// NewProcessor binds a Processor to the embedding client and place
// repository. maxAttempts must match the engine's RetryPolicy.MaxAttempts
// so the processor's own bookkeeping stays in step with the engine's.
func NewProcessor(client Client, places *store.PlaceRepo, keywordLimit, maxAttempts int) *Processor {
	if keywordLimit <= 0 {
		keywordLimit = 5
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Processor{
		client:       client,
		places:       places,
		keywordLimit: keywordLimit,
		maxAttempts:  maxAttempts,
		attempts:     make(map[int64]int),
	}
}

// Process embeds one place's keywords. Returning (nil, nil) drops the place
// without counting it as a failure (no keywords to embed).
func (p *Processor) Process(ctx context.Context, item interface{}) (interface{}, error) {
	place := item.(*models.Place)

	tracer := otel.Tracer("runner/embedding")
	ctx, span := tracer.Start(ctx, "Processor.Process", oteltrace.WithAttributes(
		attribute.Int64("place.id", place.ID),
	))
	defer span.End()

	keywords := deriveKeywords(place, p.keywordLimit)
	if len(keywords) == 0 {
		p.forget(place.ID)
		return nil, nil
	}

	vectors, err := p.client.Embed(ctx, keywords)
	if err != nil {
		attempt := p.bump(place.ID)
		if attempt >= p.maxAttempts {
			p.forget(place.ID)
			// best-effort: the original error is what the engine's skip_limit
			// accounting acts on regardless of whether this write lands.
			_ = p.markFailed(ctx, place.ID)
		}
		return nil, err
	}
	p.forget(place.ID)

	out := Result{Place: place, Vectors: make([]models.EmbeddingVector, 0, len(keywords))}
	now := time.Now().UTC()
	for i, kw := range keywords {
		out.Vectors = append(out.Vectors, models.EmbeddingVector{
			PlaceID:        place.ID,
			KeywordOrdinal: i,
			Keyword:        kw,
			Vector:         vectors[i],
			CreatedAt:      now,
		})
	}
	return &out, nil
}

func (p *Processor) markFailed(ctx context.Context, placeID int64) error {
	tx, err := p.places.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := p.places.SetEmbedStatusTx(ctx, tx, placeID, models.EmbedFailed); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Processor) bump(placeID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[placeID]++
	return p.attempts[placeID]
}

func (p *Processor) forget(placeID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, placeID)
}

// deriveKeywords builds up to limit distinct, non-empty keyword strings
// from a place's name, category, and address fields.
func deriveKeywords(place *models.Place, limit int) []string {
	candidates := []string{place.Name, place.Category, place.Address}
	seen := make(map[string]bool, len(candidates))
	keywords := make([]string, 0, limit)
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		keywords = append(keywords, c)
		if len(keywords) >= limit {
			break
		}
	}
	return keywords
}
