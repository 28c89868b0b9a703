// Package metrics collects Prometheus metrics for process runs, catalogue
// stores, caches, and artifact transfers.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the dataforest metric families.
type Collector struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	hookDuration      *prometheus.HistogramVec
	hookFailuresTotal *prometheus.CounterVec

	catalogueLookupsTotal   *prometheus.CounterVec
	catalogueAppendsTotal   *prometheus.CounterVec
	catalogueConflictsTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	treeBranchesActive prometheus.Gauge
	treeBranchDuration *prometheus.HistogramVec

	artifactBytesTotal    *prometheus.CounterVec
	artifactCopyDuration  *prometheus.HistogramVec
	checksumFailuresTotal prometheus.Counter

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector registers the metric families under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of process runs",
		},
		[]string{"process", "status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Process run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800, 7200},
		},
		[]string{"process"},
	)

	c.hookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Hook execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"hook", "phase"},
	)

	c.hookFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Total number of hook failures",
		},
		[]string{"hook", "phase"},
	)

	c.catalogueLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalogue_lookups_total",
			Help:      "Total number of catalogue lookups",
		},
		[]string{"backend", "result"},
	)

	c.catalogueAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalogue_appends_total",
			Help:      "Total number of catalogue appends",
		},
		[]string{"backend"},
	)

	c.catalogueConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalogue_conflicts_total",
			Help:      "Total number of catalogue run id conflicts",
		},
		[]string{"backend"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.treeBranchesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_branches_active",
			Help:      "Number of branches currently running in a tree",
		},
	)

	c.treeBranchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tree_branch_duration_seconds",
			Help:      "End to end branch duration within a tree run",
			Buckets:   []float64{1, 5, 15, 60, 300, 1800, 7200, 21600},
		},
		[]string{"status"},
	)

	c.artifactBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Total bytes transferred for run artifacts",
		},
		[]string{"direction"},
	)

	c.artifactCopyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_copy_duration_seconds",
			Help:      "Artifact copy duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"direction"},
	)

	c.checksumFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_failures_total",
			Help:      "Total number of artifact checksum mismatches",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordRun records a completed process run. status is success, failed, or
// cached.
func (c *Collector) RecordRun(process, status string, duration time.Duration) {
	c.runsTotal.WithLabelValues(process, status).Inc()
	c.runDuration.WithLabelValues(process).Observe(duration.Seconds())
}

// RecordHook records one hook execution. phase is setup or clean.
func (c *Collector) RecordHook(hook, phase string, duration time.Duration, err error) {
	c.hookDuration.WithLabelValues(hook, phase).Observe(duration.Seconds())
	if err != nil {
		c.hookFailuresTotal.WithLabelValues(hook, phase).Inc()
	}
}

// RecordCatalogueLookup records a catalogue lookup and whether it hit.
func (c *Collector) RecordCatalogueLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.catalogueLookupsTotal.WithLabelValues(backend, result).Inc()
}

// RecordCatalogueAppend records a catalogue append.
func (c *Collector) RecordCatalogueAppend(backend string) {
	c.catalogueAppendsTotal.WithLabelValues(backend).Inc()
}

// RecordCatalogueConflict records a run id conflict found during append or
// rebuild.
func (c *Collector) RecordCatalogueConflict(backend string) {
	c.catalogueConflictsTotal.WithLabelValues(backend).Inc()
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections records connection pool gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records a catalogue database query.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// BranchStarted increments the active branch gauge.
func (c *Collector) BranchStarted() {
	c.treeBranchesActive.Inc()
}

// BranchFinished decrements the active branch gauge and records the branch
// duration.
func (c *Collector) BranchFinished(status string, duration time.Duration) {
	c.treeBranchesActive.Dec()
	c.treeBranchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordArtifactCopy records an artifact transfer. direction is push or
// pull.
func (c *Collector) RecordArtifactCopy(direction string, bytes int64, duration time.Duration) {
	c.artifactBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	c.artifactCopyDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordChecksumFailure records an artifact checksum mismatch.
func (c *Collector) RecordChecksumFailure() {
	c.checksumFailuresTotal.Inc()
}
