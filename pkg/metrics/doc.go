/*
Package metrics provides Prometheus metrics collection and exposition for
golem's worker executor and shard manager processes.

Metrics are registered at package init and exposed over HTTP for scraping,
following the same pattern regardless of which binary links the package:
gauges for point-in-time state (active workers, shard assignment), counters
for monotonic totals (invocations, oplog entries, fuel exhaustion), and
histograms for latency distributions (invocation duration, replay duration,
oplog commit duration).

# Metrics Catalog

Worker metrics:

	golem_active_workers_total            gauge
	golem_worker_invocations_total{outcome} counter
	golem_invocation_duration_seconds      histogram

Oplog metrics:

	golem_oplog_commit_duration_seconds    histogram
	golem_oplog_entries_appended_total{kind} counter
	golem_replay_duration_seconds          histogram

Shard manager metrics:

	golem_shard_manager_is_leader          gauge
	golem_shards_assigned_total{pod}        gauge
	golem_shards_unassigned_total          gauge
	golem_rebalance_cycles_total           counter
	golem_rebalance_duration_seconds       histogram
	golem_shard_moves_total                counter

Resource-limit metrics:

	golem_fuel_exhausted_total{project}           counter
	golem_memory_limit_exceeded_total{project}    counter

Update-pipeline and API metrics:

	golem_updates_applied_total{mode,outcome}     counter
	golem_api_requests_total{method,status}       counter
	golem_api_request_duration_seconds{method}    histogram

# Collector

Collector polls slowly-changing state (active worker count, shard routing
table) into gauges on a ticker, the same shape as a background reconciler:
a stopCh-guarded goroutine woken by time.Ticker. Counters and histograms
on the hot invocation/oplog/limits path are updated inline at the call site
instead, since polling can't observe a one-off event.

# Usage

	timer := metrics.NewTimer()
	// ... run an invocation ...
	timer.ObserveDuration(metrics.InvocationDuration)
	metrics.WorkerInvocationsTotal.WithLabelValues("success").Inc()

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
