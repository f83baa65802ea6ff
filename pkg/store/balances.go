package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/fenlabs/ballast/pkg/types"
)

// Amounts travel as text between Go and Postgres: numeric(36,18) columns are
// cast to text on read and bound as text casted back on write, so no binary
// numeric codec can round or truncate them.
const balanceColumns = "account_id, currency, available::text, frozen::text, version, updated_at"

const getBalanceSQL = `
SELECT ` + balanceColumns + `
FROM balances
WHERE account_id = $1 AND currency = $2`

// Balance operations

// GetBalance returns the committed balance for key, or (nil, nil) when the
// pair has never been touched by a deposit.
func (s *Store) GetBalance(ctx context.Context, key types.BalanceKey) (*types.Balance, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := scanBalance(s.pool.QueryRow(ctx, getBalanceSQL, key.AccountID, key.Currency))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// LoadBalances bulk-loads the given keys; absent pairs are simply missing
// from the result. The consumer uses it to warm the working set.
func (s *Store) LoadBalances(ctx context.Context, keys []types.BalanceKey) ([]*types.Balance, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query, args, err := balanceLoadQuery(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to build balance query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	defer rows.Close()

	var out []*types.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBalance(row pgx.Row) (*types.Balance, error) {
	var (
		b         types.Balance
		available string
		frozen    string
	)
	if err := row.Scan(&b.AccountID, &b.Currency, &available, &frozen, &b.Version, &b.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if b.Available, err = decimal.NewFromString(available); err != nil {
		return nil, fmt.Errorf("failed to parse available amount: %w", err)
	}
	if b.Frozen, err = decimal.NewFromString(frozen); err != nil {
		return nil, fmt.Errorf("failed to parse frozen amount: %w", err)
	}
	return &b, nil
}
