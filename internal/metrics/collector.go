package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jamie-anson/placeflow-ingestor/internal/checkpoint"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Small interfaces to allow testing without a real DB.
type checkpointProgressIface interface {
	Progress(ctx context.Context, batchName string) (models.Progress, error)
}

type placeRepoIface interface {
	ListPendingEmbedding(ctx context.Context, cursor int64, n int) ([]models.Place, int64, error)
}

// Collector periodically samples batch progress and place backlog into
// gauges, complementing the counters incremented inline by the pipeline,
// checkpoint, and embedding packages.
type Collector struct {
	regionsTotal      prometheus.Gauge
	regionsPending    prometheus.Gauge
	regionsProcessing prometheus.Gauge
	regionsCompleted  prometheus.Gauge
	regionsFailed     prometheus.Gauge
	batchPercent      prometheus.Gauge

	placesPendingEmbedding prometheus.Gauge

	checkpointRepo checkpointProgressIface
	placeRepo      placeRepoIface
	batchName      string
}

// NewCollector creates a new metrics collector. checkpointRepo/placeRepo may
// be nil (e.g. database-less test mode); periodic updates become no-ops.
func NewCollector(checkpointRepo *checkpoint.Store, placeRepo *store.PlaceRepo, batchName string) *Collector {
	c := &Collector{
		regionsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_batch_regions_total",
			Help: "Total regions registered for the current batch.",
		}),
		regionsPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_batch_regions_pending",
			Help: "Regions still pending in the current batch.",
		}),
		regionsProcessing: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_batch_regions_processing",
			Help: "Regions currently being processed in the current batch.",
		}),
		regionsCompleted: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_batch_regions_completed",
			Help: "Regions completed in the current batch.",
		}),
		regionsFailed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_batch_regions_failed",
			Help: "Regions failed in the current batch.",
		}),
		batchPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_batch_percent_complete",
			Help: "Percentage of the current batch's regions that are completed.",
		}),
		placesPendingEmbedding: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "embedding_places_pending",
			Help: "Places with crawl_status=COMPLETED and embed_status=PENDING awaiting embedding.",
		}),
		batchName: batchName,
	}
	if checkpointRepo != nil {
		c.checkpointRepo = checkpointRepo
	}
	if placeRepo != nil {
		c.placeRepo = placeRepo
	}
	return c
}

// UpdateCheckpointMetrics refreshes the batch progress gauges from the
// checkpoint store.
func (c *Collector) UpdateCheckpointMetrics(ctx context.Context) error {
	if c.checkpointRepo == nil {
		return nil
	}
	progress, err := c.checkpointRepo.Progress(ctx, c.batchName)
	if err != nil {
		return err
	}
	c.regionsTotal.Set(float64(progress.Total))
	c.regionsPending.Set(float64(progress.Pending))
	c.regionsProcessing.Set(float64(progress.Processing))
	c.regionsCompleted.Set(float64(progress.Completed))
	c.regionsFailed.Set(float64(progress.Failed))
	c.batchPercent.Set(progress.PercentPct)
	return nil
}

// UpdateEmbeddingBacklog refreshes the places-pending-embedding gauge by
// paging through every pending place 500 at a time and counting them.
func (c *Collector) UpdateEmbeddingBacklog(ctx context.Context) error {
	if c.placeRepo == nil {
		return nil
	}
	var total int64
	cursor := int64(0)
	for {
		places, next, err := c.placeRepo.ListPendingEmbedding(ctx, cursor, 500)
		if err != nil {
			return err
		}
		total += int64(len(places))
		if len(places) < 500 {
			break
		}
		cursor = next
	}
	c.placesPendingEmbedding.Set(float64(total))
	return nil
}

// StartPeriodicUpdates starts background metric updates until ctx is done.
func (c *Collector) StartPeriodicUpdates(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.UpdateCheckpointMetrics(ctx)
			_ = c.UpdateEmbeddingBacklog(ctx)
		}
	}
}
