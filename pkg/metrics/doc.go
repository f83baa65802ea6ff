/*
Package metrics provides Prometheus metrics collection and exposition for Ballast.

The metrics package defines and registers all Ballast metrics using the
Prometheus client library, providing observability into mutation throughput,
batch commit latency, lease ownership, outbox reconciliation, and cache
fan-out health. Metrics are exposed via HTTP endpoint for scraping by
Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Ingress: accepted/rejected mutations       │          │
	│  │  Outbox: published, swept, dead-lettered    │          │
	│  │  Lease: held gauge per partition, losses    │          │
	│  │  Consumer: records, duplicates, batches     │          │
	│  │  Snapshot: updates by result, queue depth   │          │
	│  │  API: request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

Recording metrics:

	metrics.MutationsAccepted.WithLabelValues("deposit").Inc()
	metrics.LeaseHeld.WithLabelValues("balance-changes-0").Set(1)
	metrics.BatchSize.Observe(float64(len(batch)))

Timing operations:

	timer := metrics.NewTimer()
	// ... batch commit ...
	timer.ObserveDurationVec(metrics.BatchCommitDuration, partitionID)

Exposing the endpoint:

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

# Alerting starting points

ballast_lease_held dropping to 0 on every node of a partition means no worker
is draining it. ballast_outbox_dead_total and ballast_records_dead_letter_total
increasing mean operator attention: records are parked on the dead-letter
topic. A growing ballast_snapshot_queue_depth means the cache cannot keep up
and reads are served increasingly from the store.
*/
package metrics
