package consumer

import (
	"context"
	"time"

	"github.com/fenlabs/ballast/pkg/store"
	"github.com/fenlabs/ballast/pkg/types"
)

// The worker depends on narrow capabilities rather than concrete components.
// Each is implementable on its own, which keeps consumer, leader election,
// and cache fan-out free of cycles and lets tests run the whole worker
// against in-memory fakes.

// BalanceStore is the relational slice the worker needs: warming the working
// set, the dedup probe, and the fenced batch commit.
type BalanceStore interface {
	LoadBalances(ctx context.Context, keys []types.BalanceKey) ([]*types.Balance, error)
	TerminalTransactions(ctx context.Context, transactionIDs []string) (map[string]types.LedgerStatus, error)
	ApplyBatch(ctx context.Context, batch *store.Batch) (*store.BatchResult, error)
}

// OffsetStore reads the committed consumption position.
type OffsetStore interface {
	LastOffset(ctx context.Context, group, topic string, partition int32) (int64, bool, error)
}

// LeaseGuard is the worker's handle on leader election for its partition.
type LeaseGuard interface {
	TryAcquire(ctx context.Context) (bool, error)
	KeepAlive(ctx context.Context) <-chan struct{}
	Release(ctx context.Context) error
	PartitionID() string
	HolderID() string
}

// LogPoller reads records from one partition of the durable log.
type LogPoller interface {
	Poll(ctx context.Context, timeout time.Duration) ([]*types.LogRecord, error)
	Close()
}

// PollerFactory opens a poller at the given resume position. The worker
// opens a fresh poller each time it becomes leader so consumption always
// starts from the committed offset.
type PollerFactory func(partition int32, offset int64, hasOffset bool) (LogPoller, error)

// SnapshotSink receives committed balances for cache fan-out.
type SnapshotSink interface {
	Enqueue(*types.Balance)
}

// DeadLetterer routes an unprocessable record to the dead-letter topic.
type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, topic string, d *types.DeadLetter) error
}

// State is the lifecycle state of a partition worker.
type State string

const (
	StateFollower  State = "follower"
	StateCandidate State = "candidate"
	StateLeader    State = "leader"
	StateDraining  State = "draining"
	StateStopped   State = "stopped"
)

// Config tunes one partition worker.
type Config struct {
	Group     string
	Topic     string
	Partition int32

	// Batching. Poll waits LongPoll when the buffer is empty and MaxLatency
	// while accumulating; a full buffer or an expired short poll flushes.
	MaxRecords int
	MaxLatency time.Duration
	LongPoll   time.Duration

	// Commit retry budget for transient store failures.
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64

	// FollowerRetry is the pause between lease acquisition attempts.
	FollowerRetry time.Duration

	WorkingSetSize int
	DLQTopic       string
}
