package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/fenlabs/ballast/pkg/types"
)

// StagedKey is the coalesced effect of one batch on one (account, currency):
// the net deltas of every successful mutation touching the key plus how many
// times it was touched. The version column advances by TouchCount so
// per-record versions stay dense even though the row is written once.
type StagedKey struct {
	Key            types.BalanceKey
	AvailableDelta decimal.Decimal
	FrozenDelta    decimal.Decimal
	TouchCount     int64

	// CreateOK marks a key whose chain started from a missing row, so the
	// commit inserts it instead of updating.
	CreateOK bool
}

// Batch is everything one consumer flush commits atomically: balance deltas,
// ledger rows for every record (successful and failed), and the offset
// advance, all fenced by the partition lease.
type Batch struct {
	PartitionID string
	HolderID    string

	Group     string
	Topic     string
	Partition int32
	Offset    int64

	Stages  []StagedKey
	Entries []*types.LedgerEntry
}

// BatchResult carries the authoritative post-commit balance rows. The
// consumer feeds them back into its working set and the snapshot queue.
type BatchResult struct {
	Balances []*types.Balance
}

// ConflictError reports staged keys whose guarded update did not apply,
// meaning the in-memory working set diverged from the store. The batch was
// rolled back; the worker re-reads and recomputes.
type ConflictError struct {
	Keys []types.BalanceKey
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("balance state conflict on %d keys, batch rolled back", len(e.Keys))
}

const createStageSQL = `
CREATE TEMP TABLE balance_stage (
	account_id      bigint,
	currency        text,
	available_delta text,
	frozen_delta    text,
	touch_count     bigint,
	create_ok       boolean
) ON COMMIT DROP`

// applyStageSQL applies net deltas to existing rows, guarded so no committed
// balance can go negative even if memory and store disagree.
const applyStageSQL = `
UPDATE balances b
SET available  = b.available + s.available_delta::numeric,
    frozen     = b.frozen + s.frozen_delta::numeric,
    version    = b.version + s.touch_count,
    updated_at = now()
FROM balance_stage s
WHERE b.account_id = s.account_id AND b.currency = s.currency
  AND b.available + s.available_delta::numeric >= 0
  AND b.frozen + s.frozen_delta::numeric >= 0
RETURNING b.account_id, b.currency, b.available::text, b.frozen::text, b.version, b.updated_at`

// insertMissingSQL lazily creates rows for keys whose first ever mutation is
// in this batch (deposit chains starting from zero).
const insertMissingSQL = `
INSERT INTO balances (account_id, currency, available, frozen, version, updated_at)
SELECT s.account_id, s.currency, s.available_delta::numeric, s.frozen_delta::numeric, s.touch_count, now()
FROM balance_stage s
WHERE s.create_ok
  AND s.available_delta::numeric >= 0
  AND s.frozen_delta::numeric >= 0
  AND NOT EXISTS (
      SELECT 1 FROM balances b
      WHERE b.account_id = s.account_id AND b.currency = s.currency
  )
RETURNING account_id, currency, available::text, frozen::text, version, updated_at`

const insertLedgerSQL = `
INSERT INTO ledger (transaction_id, account_id, currency, kind, amount,
	available_before, available_after, frozen_before, frozen_after,
	status, error_message, created_at)
SELECT t.transaction_id, t.account_id, t.currency, t.kind, t.amount::numeric,
       t.available_before::numeric, t.available_after::numeric,
       t.frozen_before::numeric, t.frozen_after::numeric,
       t.status, t.error_message, t.created_at
FROM unnest(
	$1::text[], $2::bigint[], $3::text[], $4::text[], $5::text[],
	$6::text[], $7::text[], $8::text[], $9::text[],
	$10::text[], $11::text[], $12::timestamptz[]
) AS t(transaction_id, account_id, currency, kind, amount,
       available_before, available_after, frozen_before, frozen_after,
       status, error_message, created_at)
ON CONFLICT (transaction_id) DO NOTHING`

// ApplyBatch commits one consumer flush in a single transaction:
//
//	fence lease -> stage deltas -> guarded join-update -> insert first-touch
//	rows -> bulk ledger insert -> offset upsert -> commit
//
// An empty batch still fences and advances the offset, which is how
// duplicate-only and malformed-only poll results move forward. The error is
// LeaseLost when the fence fails, ConflictError when a guard rejected a
// staged key, otherwise transient.
func (s *Store) ApplyBatch(ctx context.Context, batch *Batch) (*BatchResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, types.WrapE(types.KindTransient, "failed to begin batch transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.fenceLease(ctx, tx, batch.PartitionID, batch.HolderID); err != nil {
		return nil, err
	}

	result := &BatchResult{}

	if len(batch.Stages) > 0 {
		applied, err := s.applyStages(ctx, tx, batch.Stages)
		if err != nil {
			return nil, err
		}
		result.Balances = applied
	}

	if len(batch.Entries) > 0 {
		if err := s.insertLedger(ctx, tx, batch.Entries); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, commitOffsetSQL, batch.Group, batch.Topic, batch.Partition, batch.Offset); err != nil {
		return nil, types.WrapE(types.KindTransient, "failed to commit offset", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.WrapE(types.KindTransient, "failed to commit batch", err)
	}
	return result, nil
}

func (s *Store) applyStages(ctx context.Context, tx pgx.Tx, stages []StagedKey) ([]*types.Balance, error) {
	if _, err := tx.Exec(ctx, createStageSQL); err != nil {
		return nil, types.WrapE(types.KindTransient, "failed to create stage table", err)
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"balance_stage"},
		[]string{"account_id", "currency", "available_delta", "frozen_delta", "touch_count", "create_ok"},
		pgx.CopyFromSlice(len(stages), func(i int) ([]any, error) {
			st := stages[i]
			return []any{
				st.Key.AccountID,
				st.Key.Currency,
				st.AvailableDelta.String(),
				st.FrozenDelta.String(),
				st.TouchCount,
				st.CreateOK,
			}, nil
		}),
	)
	if err != nil {
		return nil, types.WrapE(types.KindTransient, "failed to stage balance deltas", err)
	}

	applied := make(map[types.BalanceKey]*types.Balance, len(stages))
	for _, query := range []string{applyStageSQL, insertMissingSQL} {
		rows, err := tx.Query(ctx, query)
		if err != nil {
			return nil, types.WrapE(types.KindTransient, "failed to apply balance deltas", err)
		}
		for rows.Next() {
			b, err := scanBalance(rows)
			if err != nil {
				rows.Close()
				return nil, types.WrapE(types.KindTransient, "failed to scan applied balance", err)
			}
			applied[b.Key()] = b
		}
		if err := rows.Err(); err != nil {
			return nil, types.WrapE(types.KindTransient, "failed to read applied balances", err)
		}
		rows.Close()
	}

	if len(applied) != len(stages) {
		conflict := &ConflictError{}
		for _, st := range stages {
			if _, ok := applied[st.Key]; !ok {
				conflict.Keys = append(conflict.Keys, st.Key)
			}
		}
		s.logger.Warn().
			Int("staged", len(stages)).
			Int("applied", len(applied)).
			Msg("balance stage guard rejected keys, rolling back batch")
		return nil, conflict
	}

	out := make([]*types.Balance, 0, len(applied))
	for _, b := range applied {
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) insertLedger(ctx context.Context, tx pgx.Tx, entries []*types.LedgerEntry) error {
	n := len(entries)
	txIDs := make([]string, n)
	accounts := make([]int64, n)
	currencies := make([]string, n)
	kinds := make([]string, n)
	amounts := make([]string, n)
	availBefore := make([]string, n)
	availAfter := make([]string, n)
	frzBefore := make([]string, n)
	frzAfter := make([]string, n)
	statuses := make([]string, n)
	errMsgs := make([]string, n)
	createdAts := make([]time.Time, n)

	for i, e := range entries {
		txIDs[i] = e.TransactionID
		accounts[i] = e.AccountID
		currencies[i] = e.Currency
		kinds[i] = string(e.Kind)
		amounts[i] = e.Amount.String()
		availBefore[i] = e.AvailableBefore.String()
		availAfter[i] = e.AvailableAfter.String()
		frzBefore[i] = e.FrozenBefore.String()
		frzAfter[i] = e.FrozenAfter.String()
		statuses[i] = string(e.Status)
		errMsgs[i] = e.ErrorMessage
		createdAts[i] = e.CreatedAt
	}

	_, err := tx.Exec(ctx, insertLedgerSQL,
		txIDs, accounts, currencies, kinds, amounts,
		availBefore, availAfter, frzBefore, frzAfter,
		statuses, errMsgs, createdAts)
	if err != nil {
		return types.WrapE(types.KindTransient, "failed to insert ledger rows", err)
	}
	return nil
}
