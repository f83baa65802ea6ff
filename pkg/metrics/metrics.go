package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingress metrics
	MutationsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_mutations_accepted_total",
			Help: "Mutations accepted into the outbox by kind",
		},
		[]string{"kind"},
	)

	MutationsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_mutations_rejected_total",
			Help: "Mutations rejected at ingress by error kind",
		},
		[]string{"kind"},
	)

	BalanceReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_balance_reads_total",
			Help: "Balance queries by serving source",
		},
		[]string{"source"},
	)

	// Outbox metrics
	OutboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_outbox_published_total",
			Help: "Outbox records published by path (inline or sweeper)",
		},
		[]string{"path"},
	)

	OutboxSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_outbox_swept_total",
			Help: "Outbox records claimed by the reconciliation sweeper",
		},
	)

	OutboxDead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_outbox_dead_total",
			Help: "Outbox records escalated to the dead-letter topic",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ballast_outbox_sweep_duration_seconds",
			Help:    "Duration of one sweeper pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Lease metrics
	LeaseHeld = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ballast_lease_held",
			Help: "Whether this node holds the partition lease (1 = leader, 0 = follower)",
		},
		[]string{"partition"},
	)

	LeaseLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_lease_lost_total",
			Help: "Times a held lease was lost before graceful release",
		},
	)

	// Consumer metrics
	RecordsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_records_consumed_total",
			Help: "Log records read by partition",
		},
		[]string{"partition"},
	)

	RecordsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_records_duplicate_total",
			Help: "Records dropped because their transaction id was already terminal",
		},
	)

	RecordsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_records_failed_total",
			Help: "Records producing a failed ledger row by error kind",
		},
		[]string{"kind"},
	)

	RecordsDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_records_dead_letter_total",
			Help: "Records routed to the dead-letter topic by the consumer",
		},
	)

	BatchesCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_batches_committed_total",
			Help: "Batch transactions committed by partition",
		},
		[]string{"partition"},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ballast_batch_size_records",
			Help:    "Records per committed batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 400},
		},
	)

	BatchCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ballast_batch_commit_duration_seconds",
			Help:    "Duration of the batch commit transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"partition"},
	)

	WorkingSetEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ballast_working_set_entries",
			Help: "Balances resident in the in-memory working set by partition",
		},
		[]string{"partition"},
	)

	// Snapshot metrics
	SnapshotUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_snapshot_updates_total",
			Help: "Cache snapshot updates by result (applied, stale, dropped, error)",
		},
		[]string{"result"},
	)

	SnapshotFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ballast_snapshot_flush_duration_seconds",
			Help:    "Duration of one snapshot flush in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_snapshot_queue_depth",
			Help: "Snapshot updates waiting across shard queues",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ballast_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MutationsAccepted)
	prometheus.MustRegister(MutationsRejected)
	prometheus.MustRegister(BalanceReads)
	prometheus.MustRegister(OutboxPublished)
	prometheus.MustRegister(OutboxSwept)
	prometheus.MustRegister(OutboxDead)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(LeaseHeld)
	prometheus.MustRegister(LeaseLost)
	prometheus.MustRegister(RecordsConsumed)
	prometheus.MustRegister(RecordsDuplicate)
	prometheus.MustRegister(RecordsFailed)
	prometheus.MustRegister(RecordsDeadLettered)
	prometheus.MustRegister(BatchesCommitted)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(BatchCommitDuration)
	prometheus.MustRegister(WorkingSetEntries)
	prometheus.MustRegister(SnapshotUpdates)
	prometheus.MustRegister(SnapshotFlushDuration)
	prometheus.MustRegister(SnapshotQueueDepth)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
