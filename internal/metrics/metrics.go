package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests.",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of latencies for HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	OutboxPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "outbox_published_total", Help: "Outbox messages published to Redis."},
	)
	OutboxPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "outbox_publish_errors_total", Help: "Errors publishing outbox messages."},
	)

	JobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "jobs_enqueued_total", Help: "Jobs enqueued to main queue."},
	)
	JobsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "jobs_processed_total", Help: "Jobs processed successfully."},
	)
	JobsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "jobs_failed_total", Help: "Jobs that failed processing."},
	)
	JobsRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "jobs_retried_total", Help: "Jobs re-enqueued for retry."},
	)
	JobsDeadLetterTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "jobs_deadletter_total", Help: "Jobs sent to dead-letter queue."},
	)

	WebSocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "websocket_connections", Help: "Current number of active WebSocket connections."},
	)

	WebSocketMessagesBroadcastTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "websocket_messages_broadcast_total", Help: "Total WebSocket messages broadcast to clients."},
	)
	WebSocketMessagesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "websocket_messages_dropped_total", Help: "Total WebSocket messages dropped due to backpressure."},
	)

	// Chunked Pipeline Engine metrics
	ChunkDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_chunk_duration_seconds",
			Help:    "Processing duration per chunk, by batch and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"batch_name", "status"},
	)
	ChunksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pipeline_chunks_processed_total", Help: "Chunks processed by the ingestion pipeline."},
		[]string{"batch_name"},
	)
	RowsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pipeline_rows_processed_total", Help: "Rows (places) processed by the ingestion pipeline."},
		[]string{"batch_name"},
	)

	// Checkpoint Store metrics
	RegionsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "checkpoint_regions_completed_total", Help: "Regions marked COMPLETED in the checkpoint store."},
		[]string{"batch_name", "region_type"},
	)
	RegionsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "checkpoint_regions_failed_total", Help: "Regions marked FAILED in the checkpoint store."},
		[]string{"batch_name", "region_type"},
	)

	// Update Queue metrics
	QueueLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_latency_seconds",
			Help:    "Time spent in the update queue before a worker dequeues the task.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"lane"},
	)

	// Embedding Pipeline metrics
	EmbeddingsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "embedding_vectors_generated_total", Help: "Embedding vectors generated and persisted."},
	)
	EmbeddingServiceErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "embedding_service_errors_total", Help: "Errors calling the embedding collaborator service."},
	)

	// Outbox metrics
	OutboxUnpublishedCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_unpublished_count",
		Help: "Current number of unpublished outbox entries",
	})
	OutboxOldestUnpublishedAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_oldest_unpublished_age_seconds",
		Help: "Age in seconds of the oldest unpublished outbox entry",
	})
)

func init() { RegisterAll() }

// RegisterAll registers all metrics on the current default Prometheus registry.
// Tests that replace prometheus.DefaultRegisterer/DefaultGatherer should call this.
func RegisterAll() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OutboxPublishedTotal,
		OutboxPublishErrorsTotal,
		JobsEnqueuedTotal,
		JobsProcessedTotal,
		JobsFailedTotal,
		JobsRetriedTotal,
		JobsDeadLetterTotal,
		OutboxUnpublishedCount,
		OutboxOldestUnpublishedAge,
		WebSocketConnections,
		WebSocketMessagesBroadcastTotal,
		WebSocketMessagesDroppedTotal,
		ChunkDurationSeconds,
		ChunksProcessedTotal,
		RowsProcessedTotal,
		RegionsCompletedTotal,
		RegionsFailedTotal,
		QueueLatencySeconds,
		EmbeddingsGeneratedTotal,
		EmbeddingServiceErrorsTotal,
	)
}

// Summary returns a lightweight map of selected metric totals for API consumption.
// It aggregates across labels where applicable.
func Summary() (map[string]float64, error) {
	out := map[string]float64{}
	fams, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}
	want := map[string]struct{}{
		"jobs_enqueued_total":         {},
		"jobs_processed_total":        {},
		"jobs_failed_total":           {},
		"jobs_retried_total":          {},
		"jobs_deadletter_total":       {},
		"outbox_published_total":      {},
		"outbox_publish_errors_total": {},
		"pipeline_chunks_processed_total":    {},
		"checkpoint_regions_completed_total": {},
		"embedding_vectors_generated_total":  {},
	}
	for _, mf := range fams {
		name := mf.GetName()
		if _, ok := want[name]; !ok {
			continue
		}
		var sum float64
		for _, m := range mf.Metric {
			if m.GetCounter() != nil {
				sum += m.GetCounter().GetValue()
			}
		}
		out[name] = sum
	}
	return out, nil
}

// GinMiddleware records basic Prometheus metrics for HTTP requests.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		c.Next()
		status := c.Writer.Status()

		HTTPRequestsTotal.WithLabelValues(path, method, intToString(status)).Inc()
		HTTPRequestDuration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the promhttp handler
func Handler() http.Handler { return promhttp.Handler() }

func intToString(n int) string { return fmtInt(n) }

// small inlined int->string without fmt to avoid extra imports in hot path
func fmtInt(n int) string {
	if n == 0 { return "0" }
	sign := ""
	if n < 0 { sign = "-"; n = -n }
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return sign + string(buf[i:])
}
