package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fenlabs/ballast/pkg/types"
)

const createAccountSQL = `
INSERT INTO accounts (account_key, shard_id, created_at)
VALUES ($1, $2, now())
RETURNING id, account_key, shard_id, created_at`

const getAccountSQL = `
SELECT id, account_key, shard_id, created_at
FROM accounts
WHERE account_key = $1`

// Account operations

// CreateAccount registers a business account. Account keys are unique;
// recreating one is a Duplicate error.
func (s *Store) CreateAccount(ctx context.Context, accountKey string, shardID int32) (*types.Account, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	var acc types.Account
	err = s.pool.QueryRow(ctx, createAccountSQL, accountKey, shardID).
		Scan(&acc.ID, &acc.AccountKey, &acc.ShardID, &acc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, types.Ef(types.KindDuplicate, "account %s already exists", accountKey)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &acc, nil
}

// GetAccount returns the account for a business key, or (nil, nil) when it
// does not exist.
func (s *Store) GetAccount(ctx context.Context, accountKey string) (*types.Account, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	var acc types.Account
	err = s.pool.QueryRow(ctx, getAccountSQL, accountKey).
		Scan(&acc.ID, &acc.AccountKey, &acc.ShardID, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acc, nil
}
