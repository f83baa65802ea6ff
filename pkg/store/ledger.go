package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/fenlabs/ballast/pkg/types"
)

const ledgerColumns = `transaction_id, account_id, currency, kind, amount::text,
available_before::text, available_after::text, frozen_before::text, frozen_after::text,
status, error_message, created_at`

const getLedgerEntrySQL = `
SELECT ` + ledgerColumns + `
FROM ledger
WHERE transaction_id = $1`

// Ledger operations

// GetLedgerEntry returns the ledger row for a transaction id, or (nil, nil)
// when the transaction has never reached the store.
func (s *Store) GetLedgerEntry(ctx context.Context, transactionID string) (*types.LedgerEntry, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	e, err := scanLedgerEntry(s.pool.QueryRow(ctx, getLedgerEntrySQL, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return e, nil
}

// TerminalTransactions returns the terminal status for every given
// transaction id that already has one. Ids without a terminal row are absent
// from the map; this is the consumer's dedup probe.
func (s *Store) TerminalTransactions(ctx context.Context, transactionIDs []string) (map[string]types.LedgerStatus, error) {
	if len(transactionIDs) == 0 {
		return nil, nil
	}

	query, args, err := terminalTransactionsQuery(transactionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build dedup query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query terminal transactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.LedgerStatus)
	for rows.Next() {
		var (
			id     string
			status types.LedgerStatus
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("failed to scan terminal transaction: %w", err)
		}
		out[id] = status
	}
	return out, rows.Err()
}

// ListLedger returns the most recent ledger rows for one (account, currency),
// newest first.
func (s *Store) ListLedger(ctx context.Context, key types.BalanceKey, limit int) ([]*types.LedgerEntry, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = 50
	}

	query, args, err := ledgerListQuery(key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer rows.Close()

	var out []*types.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanLedgerEntry(row pgx.Row) (*types.LedgerEntry, error) {
	var e types.LedgerEntry
	var amount, availBefore, availAfter, frzBefore, frzAfter string
	err := row.Scan(&e.TransactionID, &e.AccountID, &e.Currency, &e.Kind, &amount,
		&availBefore, &availAfter, &frzBefore, &frzAfter,
		&e.Status, &e.ErrorMessage, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&e.Amount, amount},
		{&e.AvailableBefore, availBefore},
		{&e.AvailableAfter, availAfter},
		{&e.FrozenBefore, frzBefore},
		{&e.FrozenAfter, frzAfter},
	} {
		d, err := decimal.NewFromString(field.src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ledger amount: %w", err)
		}
		*field.dst = d
	}
	return &e, nil
}
