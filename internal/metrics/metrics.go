package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Historical sync metrics
	HistoricalTotalBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_historical_total_blocks",
			Help: "Number of blocks in the target range of a source",
		},
		[]string{"network", "source"},
	)

	HistoricalCachedBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_historical_cached_blocks",
			Help: "Number of target blocks already present in the sync store at startup",
		},
		[]string{"network", "source"},
	)

	HistoricalCompletedBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_historical_completed_blocks_total",
			Help: "Number of target blocks completed during this run",
		},
		[]string{"network", "source"},
	)

	HistoricalStartTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_historical_start_timestamp",
			Help: "Unix time in milliseconds at which the historical sync started",
		},
		[]string{"network"},
	)

	// RPC metrics
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_rpc_requests_total",
			Help: "Total number of RPC requests by method",
		},
		[]string{"network", "method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_rpc_errors_total",
			Help: "Total number of failed RPC requests by method",
		},
		[]string{"network", "method"},
	)

	rpcRequestTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network", "method"},
	)

	// Task queue metrics
	QueuedTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_queue_queued_tasks",
			Help: "Number of tasks waiting in the historical task queue",
		},
		[]string{"network"},
	)

	taskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_task_retries_total",
			Help: "Total number of task re-enqueues after a worker failure",
		},
		[]string{"network", "kind"},
	)

	// Database metrics
	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation"},
	)

	dbErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"operation"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func HistoricalTotalBlocksSet(network, source string, blocks uint64) {
	HistoricalTotalBlocks.WithLabelValues(network, source).Set(float64(blocks))
}

func HistoricalCachedBlocksSet(network, source string, blocks uint64) {
	HistoricalCachedBlocks.WithLabelValues(network, source).Set(float64(blocks))
}

func HistoricalCompletedBlocksAdd(network, source string, blocks uint64) {
	HistoricalCompletedBlocks.WithLabelValues(network, source).Add(float64(blocks))
}

func HistoricalStartTimestampSet(network string, ts time.Time) {
	HistoricalStartTimestamp.WithLabelValues(network).Set(float64(ts.UnixMilli()))
}

func RPCRequestInc(network, method string) {
	rpcRequests.WithLabelValues(network, method).Inc()
}

func RPCErrorInc(network, method string) {
	rpcErrors.WithLabelValues(network, method).Inc()
}

func RPCRequestDuration(network, method string, duration time.Duration) {
	rpcRequestTime.WithLabelValues(network, method).Observe(duration.Seconds())
}

func QueuedTasksSet(network string, count int) {
	QueuedTasks.WithLabelValues(network).Set(float64(count))
}

func TaskRetryInc(network, kind string) {
	taskRetries.WithLabelValues(network, kind).Inc()
}

func DBQueryInc(operation string) {
	dbQueries.WithLabelValues(operation).Inc()
}

func DBErrorInc(operation string) {
	dbErrors.WithLabelValues(operation).Inc()
}

// UpdateSystemMetrics refreshes runtime gauges. Called periodically by the
// metrics server.
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
