package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DBQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Total number of database errors",
		},
		[]string{"operation", "error_type"},
	)
)

// PoolStats is the subset of pgxpool statistics the collector reads.
type PoolStats interface {
	Stat() *pgxpool.Stat
}

// DBCollector reports connection pool statistics at scrape time.
type DBCollector struct {
	pool PoolStats

	open    *prometheus.Desc
	inUse   *prometheus.Desc
	idle    *prometheus.Desc
	maxOpen *prometheus.Desc
}

var _ prometheus.Collector = (*DBCollector)(nil)

func NewDBCollector(pool PoolStats) *DBCollector {
	return &DBCollector{
		pool:    pool,
		open:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "db", "connections_open"), "Total number of open database connections", nil, nil),
		inUse:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "db", "connections_in_use"), "Number of database connections currently acquired", nil, nil),
		idle:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "db", "connections_idle"), "Number of idle database connections", nil, nil),
		maxOpen: prometheus.NewDesc(prometheus.BuildFQName(namespace, "db", "connections_max_open"), "Maximum number of open database connections allowed", nil, nil),
	}
}

func (c *DBCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.maxOpen
}

func (c *DBCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	stat := c.pool.Stat()
	if stat == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.maxOpen, prometheus.GaugeValue, float64(stat.MaxConns()))
}

// RecordQuery records the duration of a database operation. Use with defer:
//
//	start := time.Now()
//	defer func() { metrics.RecordQuery("toggle_like", start, err) }()
func RecordQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		DBErrors.WithLabelValues(operation, errorType(err)).Inc()
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "query_error"
	}
}
