// Package pipeline implements a chunked reader/processor/writer engine with
// chunk-level transactional boundaries, per-item retry and skip policy, and
// cooperative stop via context cancellation.
package pipeline

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
)

// Status is the terminal outcome of a Run.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
)

// Reader produces up to n items starting after cursor. io.EOF-equivalent is
// signalled by returning fewer than n items (including zero).
type Reader interface {
	Read(ctx context.Context, cursor int64, n int) (items []interface{}, nextCursor int64, err error)
}

// Processor transforms one item. Returning (nil, nil) drops the item without
// counting it as a skip.
type Processor interface {
	Process(ctx context.Context, item interface{}) (interface{}, error)
}

// Writer commits a whole chunk atomically. A partial failure must fail the
// entire chunk.
type Writer interface {
	Write(ctx context.Context, items []interface{}) error
}

// RetryPolicy classifies errors and controls per-item retry counts.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFrac   float64 // e.g. 0.10 for ±10%
}

// DefaultRetryPolicy retries transient errors up to 3 times with
// exponential backoff, B0=1s, Bmax=30s, 10% jitter either way.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFrac:   0.10,
	}
}

func (p RetryPolicy) shouldRetry(err error) bool {
	switch {
	case apperrors.IsType(err, apperrors.ValidationError):
		return false
	case apperrors.IsType(err, apperrors.FatalErrorType):
		return false
	case apperrors.IsType(err, apperrors.ConfigError):
		return false
	case apperrors.IsType(err, apperrors.TransientErrorType),
		apperrors.IsType(err, apperrors.ExternalServiceError),
		apperrors.IsType(err, apperrors.DatabaseError),
		apperrors.IsType(err, apperrors.TimeoutError):
		return true
	default:
		return true
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * pow(p.Multiplier, attempt)
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterFrac > 0 {
		jitterRange := d * p.JitterFrac
		d += (rand.Float64()*2 - 1) * jitterRange
		if d < 0 {
			d = float64(p.InitialDelay)
		}
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Counters aggregates what a Run accomplished. Skipped counts items
// discarded by the per-item skip policy (validation errors, exhausted
// retries); Failed counts items lost to a writer failure after retries.
// Both draw down the skip_limit budget. Items a processor drops on purpose
// appear in neither.
type Counters struct {
	Read    int
	Written int
	Skipped int
	Failed  int
}

// ChunkStats is reported to OnChunk after every chunk.
type ChunkStats struct {
	ChunkIndex int
	Counters   Counters
	Duration   time.Duration
}

// Spec binds the collaborators and tunables for one Run.
type Spec struct {
	Name        string
	Reader      Reader
	Processor   Processor
	Writer      Writer
	ChunkSize   int
	SkipLimit   int
	RetryPolicy RetryPolicy
	Concurrency int // items processed concurrently within a chunk; 1 = sequential

	OnChunk    func(ChunkStats)
	OnComplete func(Result)
	OnFail     func(Result, error)
}

// Result is returned by Run.
type Result struct {
	Status   Status
	Counters Counters
}

// Engine runs one chunked reader/processor/writer loop per Run call. It is
// safe to reuse across sequential Run calls but not for concurrent ones.
type Engine struct{}

// New returns a ready-to-use Engine.
func New() *Engine {
	return &Engine{}
}

// Run executes spec's reader/processor/writer loop until the reader is
// exhausted, the skip_limit is exceeded, or ctx is cancelled between chunks.
func (e *Engine) Run(ctx context.Context, spec Spec) (Result, error) {
	tracer := otel.Tracer("runner/pipeline")
	ctx, span := tracer.Start(ctx, "Engine.Run", oteltrace.WithAttributes(
		attribute.String("pipeline.name", spec.Name),
		attribute.Int("pipeline.chunk_size", spec.ChunkSize),
	))
	defer span.End()

	if spec.ChunkSize <= 0 {
		spec.ChunkSize = 100
	}
	if spec.RetryPolicy.MaxAttempts == 0 {
		spec.RetryPolicy = DefaultRetryPolicy()
	}
	if spec.Concurrency <= 0 {
		spec.Concurrency = 1
	}

	var total Counters
	var cursor int64
	chunkIndex := 0
	interChunkDelay := spec.RetryPolicy.InitialDelay
	readFailures := 0

	for {
		select {
		case <-ctx.Done():
			res := Result{Status: StatusStopped, Counters: total}
			if spec.OnFail != nil {
				spec.OnFail(res, ctx.Err())
			}
			span.SetAttributes(attribute.String("pipeline.status", string(StatusStopped)))
			return res, ctx.Err()
		default:
		}

		items, next, err := spec.Reader.Read(ctx, cursor, spec.ChunkSize)
		if err != nil {
			if spec.RetryPolicy.shouldRetry(err) {
				time.Sleep(interChunkDelay)
				readFailures++
				interChunkDelay = spec.RetryPolicy.delay(readFailures)
				continue
			}
			res := Result{Status: StatusFailed, Counters: total}
			if spec.OnFail != nil {
				spec.OnFail(res, err)
			}
			return res, err
		}
		if len(items) == 0 {
			res := Result{Status: StatusCompleted, Counters: total}
			if spec.OnComplete != nil {
				spec.OnComplete(res)
			}
			span.SetAttributes(attribute.String("pipeline.status", string(StatusCompleted)))
			return res, nil
		}

		chunkStart := time.Now()
		processed, chunkCounters := e.processChunk(ctx, spec, items)
		total.Read += chunkCounters.Read
		total.Skipped += chunkCounters.Skipped

		if len(processed) > 0 {
			if err := spec.Writer.Write(ctx, processed); err != nil {
				retryable := spec.RetryPolicy.shouldRetry(err)
				if retryable {
					if werr := e.retryWrite(ctx, spec, processed); werr == nil {
						total.Written += len(processed)
					} else {
						total.Failed += len(processed)
					}
				} else {
					total.Failed += len(processed)
				}
			} else {
				total.Written += len(processed)
			}
		}

		interChunkDelay = spec.RetryPolicy.InitialDelay
		readFailures = 0

		if spec.OnChunk != nil {
			spec.OnChunk(ChunkStats{ChunkIndex: chunkIndex, Counters: total, Duration: time.Since(chunkStart)})
		}
		chunkIndex++

		if spec.SkipLimit >= 0 && total.Skipped+total.Failed > spec.SkipLimit {
			res := Result{Status: StatusFailed, Counters: total}
			err := apperrors.New(apperrors.ResourceErrorType, "skip_limit exceeded")
			if spec.OnFail != nil {
				spec.OnFail(res, err)
			}
			span.SetAttributes(attribute.String("pipeline.status", string(StatusFailed)))
			return res, err
		}

		cursor = next
		if !hasMore(items, spec.ChunkSize) {
			res := Result{Status: StatusCompleted, Counters: total}
			if spec.OnComplete != nil {
				spec.OnComplete(res)
			}
			span.SetAttributes(attribute.String("pipeline.status", string(StatusCompleted)))
			return res, nil
		}
	}
}

func hasMore(items []interface{}, chunkSize int) bool {
	return len(items) >= chunkSize
}

// processChunk runs every item through the processor and returns the items
// to write plus per-chunk counters. Per-item retry inside processOne is the
// only processor retry path: an item whose error is non-retryable or whose
// retries are exhausted becomes a skip, and an item the processor drops on
// purpose (nil, nil) is counted nowhere.
func (e *Engine) processChunk(ctx context.Context, spec Spec, items []interface{}) ([]interface{}, Counters) {
	var counters Counters
	counters.Read = len(items)

	results := make([]interface{}, 0, len(items))
	if spec.Concurrency <= 1 {
		for _, item := range items {
			out, dropped, err := e.processOne(ctx, spec, item)
			if err != nil {
				counters.Skipped++
				continue
			}
			if dropped {
				continue
			}
			results = append(results, out)
		}
		return results, counters
	}

	type outcome struct {
		out     interface{}
		dropped bool
		err     error
	}
	outcomes := make([]outcome, len(items))
	sem := make(chan struct{}, spec.Concurrency)
	done := make(chan int, len(items))
	for i, item := range items {
		sem <- struct{}{}
		go func(i int, item interface{}) {
			defer func() { <-sem }()
			out, dropped, err := e.processOne(ctx, spec, item)
			outcomes[i] = outcome{out: out, dropped: dropped, err: err}
			done <- i
		}(i, item)
	}
	for range items {
		<-done
	}
	for _, o := range outcomes {
		if o.err != nil {
			counters.Skipped++
			continue
		}
		if o.dropped {
			continue
		}
		results = append(results, o.out)
	}
	return results, counters
}

func (e *Engine) processOne(ctx context.Context, spec Spec, item interface{}) (out interface{}, dropped bool, err error) {
	var lastErr error
	for attempt := 0; attempt < spec.RetryPolicy.MaxAttempts; attempt++ {
		out, err = spec.Processor.Process(ctx, item)
		if err == nil {
			if out == nil {
				return nil, true, nil
			}
			return out, false, nil
		}
		lastErr = err
		if !spec.RetryPolicy.shouldRetry(err) {
			return nil, false, err
		}
		if attempt < spec.RetryPolicy.MaxAttempts-1 {
			time.Sleep(spec.RetryPolicy.delay(attempt))
		}
	}
	return nil, false, lastErr
}

func (e *Engine) retryWrite(ctx context.Context, spec Spec, items []interface{}) error {
	var lastErr error
	for attempt := 0; attempt < spec.RetryPolicy.MaxAttempts; attempt++ {
		if err := spec.Writer.Write(ctx, items); err == nil {
			return nil
		} else {
			lastErr = err
			if !spec.RetryPolicy.shouldRetry(err) {
				return err
			}
		}
		time.Sleep(spec.RetryPolicy.delay(attempt))
	}
	return lastErr
}
