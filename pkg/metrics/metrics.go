package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	ActiveWorkersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golem_active_workers_total",
			Help: "Number of workers currently held in this pod's active set",
		},
	)

	WorkerInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_worker_invocations_total",
			Help: "Total number of exported function invocations by outcome",
		},
		[]string{"outcome"},
	)

	InvocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golem_invocation_duration_seconds",
			Help:    "Time taken to run an exported function invocation to completion",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Oplog metrics
	OplogCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golem_oplog_commit_duration_seconds",
			Help:    "Time taken to commit a buffered batch of oplog entries to storage",
			Buckets: prometheus.DefBuckets,
		},
	)

	OplogEntriesAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_oplog_entries_appended_total",
			Help: "Total number of oplog entries appended by kind",
		},
		[]string{"kind"},
	)

	ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golem_replay_duration_seconds",
			Help:    "Time taken to replay a worker's oplog from its last snapshot to live",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// Shard manager metrics
	ShardManagerIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golem_shard_manager_is_leader",
			Help: "Whether this shard manager replica holds Raft leadership (1 = leader, 0 = follower)",
		},
	)

	ShardsAssignedTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "golem_shards_assigned_total",
			Help: "Number of shards currently assigned to each pod",
		},
		[]string{"pod"},
	)

	ShardsUnassignedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golem_shards_unassigned_total",
			Help: "Number of shards with no current owner",
		},
	)

	RebalanceCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golem_rebalance_cycles_total",
			Help: "Total number of shard-rebalance cycles run",
		},
	)

	RebalanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golem_rebalance_duration_seconds",
			Help:    "Time taken for a single shard-rebalance cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ShardMovesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golem_shard_moves_total",
			Help: "Total number of shard reassignments performed by the rebalancer",
		},
	)

	// Resource-limit metrics
	FuelExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_fuel_exhausted_total",
			Help: "Total number of BorrowFuel calls that failed due to quota exhaustion, by project",
		},
		[]string{"project"},
	)

	MemoryLimitExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_memory_limit_exceeded_total",
			Help: "Total number of GrowMemory calls that failed due to quota exhaustion, by project",
		},
		[]string{"project"},
	)

	// Update-pipeline metrics
	UpdatesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_updates_applied_total",
			Help: "Total number of worker component updates, by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_api_requests_total",
			Help: "Total number of executor API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "golem_api_request_duration_seconds",
			Help:    "Executor API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		ActiveWorkersTotal,
		WorkerInvocationsTotal,
		InvocationDuration,
		OplogCommitDuration,
		OplogEntriesAppendedTotal,
		ReplayDuration,
		ShardManagerIsLeader,
		ShardsAssignedTotal,
		ShardsUnassignedTotal,
		RebalanceCyclesTotal,
		RebalanceDuration,
		ShardMovesTotal,
		FuelExhaustedTotal,
		MemoryLimitExceededTotal,
		UpdatesAppliedTotal,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
