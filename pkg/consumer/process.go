package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fenlabs/ballast/pkg/balance"
	"github.com/fenlabs/ballast/pkg/events"
	"github.com/fenlabs/ballast/pkg/metrics"
	"github.com/fenlabs/ballast/pkg/store"
	"github.com/fenlabs/ballast/pkg/types"
)

// flush commits one batch of raw log records:
//
//	parse (malformed -> DLQ) -> collapse in-batch duplicates -> drop
//	transaction ids already terminal -> warm working set -> compute ->
//	fenced ApplyBatch -> feed results to working set and snapshot sink
//
// Every record in the batch is covered by the offset advance regardless of
// its fate, so nothing is ever reprocessed after a successful flush. On any
// error the offset stays put and the caller decides how to resume.
func (w *Worker) flush(ctx context.Context, records []*types.LogRecord) error {
	lastOffset := records[len(records)-1].Offset

	muts, err := w.parse(ctx, records)
	if err != nil {
		return err
	}
	muts = collapse(muts)
	muts, err = w.dropTerminal(ctx, muts)
	if err != nil {
		return err
	}

	// One recompute on a stage conflict: the working set diverged from the
	// store (only possible after an undetected takeover and takeback), so
	// rebuild it and try once more before surfacing the failure.
	for attempt := 0; ; attempt++ {
		if err := w.warm(ctx, muts); err != nil {
			return err
		}
		stages, entries := w.compute(muts)

		batch := &store.Batch{
			PartitionID: w.lease.PartitionID(),
			HolderID:    w.lease.HolderID(),
			Group:       w.cfg.Group,
			Topic:       w.cfg.Topic,
			Partition:   w.cfg.Partition,
			Offset:      lastOffset,
			Stages:      stages,
			Entries:     entries,
		}

		result, err := w.commit(ctx, batch)
		if err != nil {
			var conflict *store.ConflictError
			if errors.As(err, &conflict) && attempt == 0 {
				w.logger.Warn().Int("keys", len(conflict.Keys)).Msg("working set diverged, recomputing batch")
				w.ws.Reset()
				continue
			}
			return err
		}

		w.postCommit(result, len(records), len(entries))
		return nil
	}
}

// parse decodes raw records; malformed ones go to the dead-letter topic
// immediately. A failed DLQ publish aborts the flush: the offset cannot
// advance past a record that is neither applied nor dead-lettered.
func (w *Worker) parse(ctx context.Context, records []*types.LogRecord) ([]*types.MutationRequest, error) {
	out := make([]*types.MutationRequest, 0, len(records))
	for _, rec := range records {
		m, err := types.DecodeMutation(rec.Value)
		if err == nil {
			out = append(out, m)
			continue
		}

		w.logger.Warn().Err(err).
			Int64("offset", rec.Offset).
			Msg("malformed record, routing to dead letter topic")
		d := &types.DeadLetter{
			OriginalTopic:     rec.Topic,
			OriginalPartition: rec.Partition,
			OriginalOffset:    rec.Offset,
			OriginalKey:       rec.Key,
			OriginalValue:     rec.Value,
			FailedAt:          time.Now().UTC(),
			ErrorKind:         string(types.KindOf(err)),
			ErrorMessage:      err.Error(),
		}
		if pubErr := w.dlq.PublishDeadLetter(ctx, w.cfg.DLQTopic, d); pubErr != nil {
			return nil, types.WrapE(types.KindTransient, "failed to dead-letter malformed record", pubErr)
		}
		metrics.RecordsDeadLettered.Inc()
		w.broker.Emit(events.EventRecordDead, w.lease.PartitionID(), err.Error())
	}
	return out, nil
}

// collapse drops repeated transaction ids within the batch, keeping the
// first occurrence. The survivors produce exactly one ledger row each.
func collapse(muts []*types.MutationRequest) []*types.MutationRequest {
	if len(muts) < 2 {
		return muts
	}
	seen := make(map[string]bool, len(muts))
	out := muts[:0]
	for _, m := range muts {
		if seen[m.TransactionID] {
			metrics.RecordsDuplicate.Inc()
			continue
		}
		seen[m.TransactionID] = true
		out = append(out, m)
	}
	return out
}

// dropTerminal removes mutations whose transaction id already has a terminal
// ledger row. They are observable outcomes of a previous delivery; replaying
// them is a no-op by definition.
func (w *Worker) dropTerminal(ctx context.Context, muts []*types.MutationRequest) ([]*types.MutationRequest, error) {
	if len(muts) == 0 {
		return muts, nil
	}
	ids := make([]string, len(muts))
	for i, m := range muts {
		ids[i] = m.TransactionID
	}

	terminal, err := w.store.TerminalTransactions(ctx, ids)
	if err != nil {
		return nil, types.WrapE(types.KindTransient, "failed to probe terminal transactions", err)
	}
	if len(terminal) == 0 {
		return muts, nil
	}

	out := muts[:0]
	for _, m := range muts {
		if _, ok := terminal[m.TransactionID]; ok {
			metrics.RecordsDuplicate.Inc()
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// warm loads store-resident balances the batch touches into the working set.
func (w *Worker) warm(ctx context.Context, muts []*types.MutationRequest) error {
	keys := make([]types.BalanceKey, 0, len(muts))
	for _, m := range muts {
		keys = append(keys, m.Key())
	}
	missing := w.ws.Missing(keys)
	if len(missing) == 0 {
		return nil
	}

	loaded, err := w.store.LoadBalances(ctx, missing)
	if err != nil {
		return types.WrapE(types.KindTransient, "failed to warm working set", err)
	}
	for _, b := range loaded {
		w.ws.Put(b)
	}
	return nil
}

// compute runs the batch against the working set without mutating it: the
// in-flight view lives in a local map so a rolled-back commit leaves the
// working set untouched. Rejections become failed ledger rows; successful
// mutations chain within the batch and accumulate per-key deltas.
func (w *Worker) compute(muts []*types.MutationRequest) ([]store.StagedKey, []*types.LedgerEntry) {
	now := time.Now().UTC()

	local := make(map[types.BalanceKey]*types.Balance)
	created := make(map[types.BalanceKey]bool)
	stages := make(map[types.BalanceKey]*store.StagedKey)
	var order []types.BalanceKey
	entries := make([]*types.LedgerEntry, 0, len(muts))

	for _, m := range muts {
		key := m.Key()

		cur, ok := local[key]
		if !ok {
			if b, resident := w.ws.Get(key); resident {
				cur = b
			}
		}
		if cur == nil {
			if m.Kind != types.MutationDeposit {
				entries = append(entries, failedEntry(m, balance.Zero(key), now,
					types.Ef(types.KindUnknownBalance, "no balance for account %d currency %s", m.AccountID, m.Currency)))
				metrics.RecordsFailed.WithLabelValues(string(types.KindUnknownBalance)).Inc()
				continue
			}
			cur = balance.Zero(key)
			created[key] = true
		}

		next, err := balance.Apply(cur, m.Kind, m.Amount, now)
		if err != nil {
			entries = append(entries, failedEntry(m, cur, now, err))
			metrics.RecordsFailed.WithLabelValues(string(types.KindOf(err))).Inc()
			continue
		}

		entries = append(entries, &types.LedgerEntry{
			TransactionID:   m.TransactionID,
			AccountID:       m.AccountID,
			Currency:        m.Currency,
			Kind:            m.Kind,
			Amount:          m.Amount,
			AvailableBefore: cur.Available,
			AvailableAfter:  next.Available,
			FrozenBefore:    cur.Frozen,
			FrozenAfter:     next.Frozen,
			Status:          types.LedgerSuccess,
			CreatedAt:       now,
		})

		st, ok := stages[key]
		if !ok {
			st = &store.StagedKey{Key: key, CreateOK: created[key]}
			stages[key] = st
			order = append(order, key)
		}
		st.AvailableDelta = st.AvailableDelta.Add(next.Available.Sub(cur.Available))
		st.FrozenDelta = st.FrozenDelta.Add(next.Frozen.Sub(cur.Frozen))
		st.TouchCount++

		local[key] = next
	}

	out := make([]store.StagedKey, 0, len(order))
	for _, key := range order {
		out = append(out, *stages[key])
	}
	return out, entries
}

func failedEntry(m *types.MutationRequest, cur *types.Balance, now time.Time, err error) *types.LedgerEntry {
	return &types.LedgerEntry{
		TransactionID:   m.TransactionID,
		AccountID:       m.AccountID,
		Currency:        m.Currency,
		Kind:            m.Kind,
		Amount:          m.Amount,
		AvailableBefore: cur.Available,
		AvailableAfter:  cur.Available,
		FrozenBefore:    cur.Frozen,
		FrozenAfter:     cur.Frozen,
		Status:          types.LedgerFailed,
		ErrorMessage:    err.Error(),
		CreatedAt:       now,
	}
}

// commit applies the batch with bounded backoff on transient store errors.
// Lease loss and stage conflicts are permanent: retrying cannot help.
func (w *Worker) commit(ctx context.Context, batch *store.Batch) (*store.BatchResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.BatchCommitDuration, w.partitionLabel())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.InitialInterval
	bo.Multiplier = w.cfg.Multiplier
	bo.MaxElapsedTime = 0

	var result *store.BatchResult
	op := func() error {
		res, err := w.store.ApplyBatch(ctx, batch)
		if err != nil {
			if types.IsKind(err, types.KindLeaseLost) {
				return backoff.Permanent(err)
			}
			var conflict *store.ConflictError
			if errors.As(err, &conflict) {
				return backoff.Permanent(err)
			}
			w.logger.Warn().Err(err).Msg("batch commit failed, retrying")
			return err
		}
		result = res
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(w.cfg.MaxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// postCommit feeds authoritative post-commit rows back into the working set
// and the snapshot queue, and settles the batch metrics.
func (w *Worker) postCommit(result *store.BatchResult, records, ledgerRows int) {
	for _, b := range result.Balances {
		w.ws.Put(b)
		w.sink.Enqueue(b)
	}

	metrics.BatchesCommitted.WithLabelValues(w.partitionLabel()).Inc()
	metrics.BatchSize.Observe(float64(records))
	metrics.WorkingSetEntries.WithLabelValues(w.lease.PartitionID()).Set(float64(w.ws.Len()))

	w.broker.Emit(events.EventBatchCommitted, w.lease.PartitionID(), "")
	w.logger.Debug().
		Int("records", records).
		Int("ledger_rows", ledgerRows).
		Int("balances", len(result.Balances)).
		Msg("batch committed")
}
