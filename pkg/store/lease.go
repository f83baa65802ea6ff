package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fenlabs/ballast/pkg/types"
)

const acquireLeaseSQL = `
INSERT INTO leader_lease (partition_id, holder_id, acquired_at, expires_at)
VALUES ($1, $2, now(), now() + make_interval(secs => $3))
ON CONFLICT (partition_id) DO UPDATE
SET holder_id = EXCLUDED.holder_id,
    acquired_at = now(),
    expires_at = EXCLUDED.expires_at
WHERE leader_lease.expires_at < now()
   OR leader_lease.holder_id = EXCLUDED.holder_id
RETURNING holder_id`

const renewLeaseSQL = `
UPDATE leader_lease
SET expires_at = now() + make_interval(secs => $3)
WHERE partition_id = $1 AND holder_id = $2 AND expires_at > now()`

const releaseLeaseSQL = `
DELETE FROM leader_lease
WHERE partition_id = $1 AND holder_id = $2`

const getLeaseSQL = `
SELECT partition_id, holder_id, acquired_at, expires_at
FROM leader_lease
WHERE partition_id = $1`

const fenceLeaseSQL = `
SELECT holder_id
FROM leader_lease
WHERE partition_id = $1
FOR UPDATE`

// Lease operations

// AcquireLease tries to take the partition lease for holderID. It succeeds
// when the row is absent, expired, or already ours; a live lease held by
// someone else leaves the row untouched and returns false.
func (s *Store) AcquireLease(ctx context.Context, partitionID, holderID string, ttl time.Duration) (bool, error) {
	var winner string
	err := s.pool.QueryRow(ctx, acquireLeaseSQL, partitionID, holderID, ttl.Seconds()).Scan(&winner)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return winner == holderID, nil
}

// RenewLease extends the expiry of a live lease still held by holderID. It
// reports false when the row has expired, been taken over, or deleted, which
// the elector treats as loss of leadership.
func (s *Store) RenewLease(ctx context.Context, partitionID, holderID string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, renewLeaseSQL, partitionID, holderID, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLease deletes the lease row if holderID still owns it, so a
// follower can take over without waiting out the TTL.
func (s *Store) ReleaseLease(ctx context.Context, partitionID, holderID string) error {
	if _, err := s.pool.Exec(ctx, releaseLeaseSQL, partitionID, holderID); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// GetLease returns the current lease row for a partition, or (nil, nil) when
// nobody holds it.
func (s *Store) GetLease(ctx context.Context, partitionID string) (*types.Lease, error) {
	var lease types.Lease
	err := s.pool.QueryRow(ctx, getLeaseSQL, partitionID).
		Scan(&lease.PartitionID, &lease.HolderID, &lease.AcquiredAt, &lease.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	return &lease, nil
}

// fenceLease row-locks the lease inside the batch transaction and verifies
// the committer still owns it. Every batch commit runs this, including
// offset-only flushes: the row lock serializes against a concurrent
// takeover, so a commit can never land after the lease has changed hands.
func (s *Store) fenceLease(ctx context.Context, tx pgx.Tx, partitionID, holderID string) error {
	var holder string
	err := tx.QueryRow(ctx, fenceLeaseSQL, partitionID).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Ef(types.KindLeaseLost, "no lease row for partition %s", partitionID)
	}
	if err != nil {
		return types.WrapE(types.KindTransient, "failed to fence lease", err)
	}
	if holder != holderID {
		return types.Ef(types.KindLeaseLost, "lease for partition %s moved to %s", partitionID, holder)
	}
	return nil
}
