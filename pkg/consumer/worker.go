package consumer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fenlabs/ballast/pkg/balance"
	"github.com/fenlabs/ballast/pkg/events"
	"github.com/fenlabs/ballast/pkg/log"
	"github.com/fenlabs/ballast/pkg/metrics"
	"github.com/fenlabs/ballast/pkg/types"
)

// Worker serializes all mutations of one partition: it contends for the
// partition lease, consumes from the committed offset while leading, and
// commits whole batches under the fence. Everything it owns is confined to
// its goroutine; parallelism comes from running one worker per partition.
type Worker struct {
	cfg Config

	store   BalanceStore
	offsets OffsetStore
	lease   LeaseGuard
	pollers PollerFactory
	sink    SnapshotSink
	dlq     DeadLetterer
	broker  *events.Broker

	ws     *balance.WorkingSet
	logger zerolog.Logger

	mu    sync.Mutex
	state State

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker wires a stopped worker for one partition.
func NewWorker(cfg Config, store BalanceStore, offsets OffsetStore, lease LeaseGuard,
	pollers PollerFactory, sink SnapshotSink, dlq DeadLetterer, broker *events.Broker) *Worker {
	return &Worker{
		cfg:     cfg,
		store:   store,
		offsets: offsets,
		lease:   lease,
		pollers: pollers,
		sink:    sink,
		dlq:     dlq,
		broker:  broker,
		ws:      balance.NewWorkingSet(cfg.WorkingSetSize),
		state:   StateFollower,
		logger: log.WithComponent("consumer").With().
			Str("partition", lease.PartitionID()).
			Logger(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the worker loop.
func (w *Worker) Start() {
	go w.run()
}

// Stop drains the worker: the in-flight batch is flushed or abandoned, the
// lease released if held, and the goroutine joined.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) run() {
	defer close(w.doneCh)
	defer w.setState(StateStopped)

	ctx := context.Background()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		w.setState(StateCandidate)
		got, err := w.lease.TryAcquire(ctx)
		if err != nil {
			w.logger.Warn().Err(err).Msg("lease acquisition failed")
		}
		if !got {
			w.setState(StateFollower)
			select {
			case <-w.stopCh:
				return
			case <-time.After(w.cfg.FollowerRetry):
			}
			continue
		}

		w.setState(StateLeader)
		if err := w.lead(ctx); err != nil {
			if types.IsKind(err, types.KindLeaseLost) {
				// The lease moved; the working set may trail another writer's
				// commits and must be rebuilt from the store.
				w.ws.Reset()
				metrics.WorkingSetEntries.WithLabelValues(w.lease.PartitionID()).Set(0)
				w.setState(StateFollower)
				continue
			}
			// Transient infrastructure failure: offset was not advanced.
			// Re-acquire (possibly still ours) and resume from the committed
			// offset.
			w.logger.Warn().Err(err).Msg("consume loop failed, re-acquiring")
			select {
			case <-w.stopCh:
				w.release()
				return
			case <-time.After(w.cfg.FollowerRetry):
			}
			continue
		}

		// Graceful drain.
		w.release()
		return
	}
}

// lead is the consume loop: poll, accumulate, flush. It returns nil only on
// graceful shutdown; any error hands control back to run for state handling.
func (w *Worker) lead(ctx context.Context) error {
	keepAliveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lost := w.lease.KeepAlive(keepAliveCtx)

	offset, hasOffset, err := w.offsets.LastOffset(ctx, w.cfg.Group, w.cfg.Topic, w.cfg.Partition)
	if err != nil {
		return types.WrapE(types.KindTransient, "failed to read committed offset", err)
	}

	poller, err := w.pollers(w.cfg.Partition, offset, hasOffset)
	if err != nil {
		return types.WrapE(types.KindTransient, "failed to open log poller", err)
	}
	defer poller.Close()

	w.logger.Info().
		Int64("offset", offset).
		Bool("resuming", hasOffset).
		Msg("leading partition")

	var buf []*types.LogRecord
	for {
		select {
		case <-w.stopCh:
			w.setState(StateDraining)
			if len(buf) > 0 {
				drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := w.flush(drainCtx, buf); err != nil {
					w.logger.Warn().Err(err).Msg("drain flush failed, batch abandoned")
				}
				drainCancel()
			}
			return nil
		case <-lost:
			return types.E(types.KindLeaseLost, "lease lost during consume loop")
		default:
		}

		timeout := w.cfg.LongPoll
		if len(buf) > 0 {
			timeout = w.cfg.MaxLatency
		}
		recs, err := poller.Poll(ctx, timeout)
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			metrics.RecordsConsumed.WithLabelValues(strconv.Itoa(int(w.cfg.Partition))).Add(float64(len(recs)))
			buf = append(buf, recs...)
		}
		if len(buf) == 0 {
			continue
		}

		// Flush on a full buffer or an expired short poll; an all-duplicate
		// or all-malformed buffer still commits as an offset-only flush.
		if len(buf) >= w.cfg.MaxRecords || len(recs) == 0 {
			if err := w.flush(ctx, buf); err != nil {
				return err
			}
			buf = nil
		}
	}
}

// release gives up the lease on graceful paths. Best effort: an unreleased
// lease simply expires.
func (w *Worker) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.lease.Release(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("failed to release lease")
	}
}

func (w *Worker) partitionLabel() string {
	return strconv.Itoa(int(w.cfg.Partition))
}
