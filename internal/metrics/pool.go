package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolStatsCollector exposes pgxpool acquire/idle/total connection gauges.
// The pool is sampled at scrape time, so no background ticker is needed.
type poolStatsCollector struct {
	pool *pgxpool.Pool

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	waiting  *prometheus.Desc
}

// RegisterPoolStats registers scrape-time gauges over the shared pgx pool.
// A nil pool is a no-op so degraded database-less mode keeps working.
func RegisterPoolStats(pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	prometheus.MustRegister(&poolStatsCollector{
		pool:     pool,
		acquired: prometheus.NewDesc("pgx_pool_acquired_conns", "Connections currently checked out of the pgx pool.", nil, nil),
		idle:     prometheus.NewDesc("pgx_pool_idle_conns", "Idle connections held by the pgx pool.", nil, nil),
		total:    prometheus.NewDesc("pgx_pool_total_conns", "Total connections opened by the pgx pool.", nil, nil),
		waiting:  prometheus.NewDesc("pgx_pool_empty_acquire_count", "Cumulative acquires that waited for a free connection.", nil, nil),
	})
}

func (c *poolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.waiting
}

func (c *poolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(stat.EmptyAcquireCount()))
}
