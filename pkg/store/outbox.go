package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fenlabs/ballast/pkg/types"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

const insertOutboxSQL = `
INSERT INTO outbox (event_id, transaction_id, topic, partition_key, payload, status, retry_count, next_attempt_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, now(), now())`

const markOutboxSentSQL = `
UPDATE outbox
SET status = $2, sent_at = now(), last_error = ''
WHERE event_id = $1`

const markOutboxFailedSQL = `
UPDATE outbox
SET status = $2, retry_count = $3, next_attempt_at = $4, last_error = $5
WHERE event_id = $1`

const markOutboxDeadSQL = `
UPDATE outbox
SET status = $2, last_error = $3
WHERE event_id = $1`

const reserveOutboxSQL = `
UPDATE outbox
SET next_attempt_at = $2
WHERE event_id = ANY($1)`

// Outbox operations

// InsertOutbox persists a pending outbox row. A transaction id that was
// already accepted surfaces as a Duplicate error.
func (s *Store) InsertOutbox(ctx context.Context, rec *types.OutboxRecord) error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	defer release()

	_, err = s.pool.Exec(ctx, insertOutboxSQL,
		rec.EventID, rec.TransactionID, rec.Topic, rec.PartitionKey, rec.Payload, types.OutboxPending)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return types.Ef(types.KindDuplicate, "transaction %s already accepted", rec.TransactionID)
		}
		return types.WrapE(types.KindTransient, "failed to insert outbox record", err)
	}
	return nil
}

// MarkOutboxSent transitions a row to sent after successful publication.
func (s *Store) MarkOutboxSent(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, markOutboxSentSQL, eventID, types.OutboxSent)
	if err != nil {
		return fmt.Errorf("failed to mark outbox sent: %w", err)
	}
	return nil
}

// MarkOutboxFailed records a publish failure and schedules the next attempt.
func (s *Store) MarkOutboxFailed(ctx context.Context, eventID string, retryCount int32, nextAttempt time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, markOutboxFailedSQL, eventID, types.OutboxFailed, retryCount, nextAttempt, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark outbox failed: %w", err)
	}
	return nil
}

// MarkOutboxDead parks a row whose publication exceeded the retry budget.
func (s *Store) MarkOutboxDead(ctx context.Context, eventID string, lastError string) error {
	_, err := s.pool.Exec(ctx, markOutboxDeadSQL, eventID, types.OutboxDead, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark outbox dead: %w", err)
	}
	return nil
}

// ClaimOutbox picks up to limit unsent rows that are due, pushes their
// next_attempt_at into the future as an in-flight reservation, and returns
// them. FOR UPDATE SKIP LOCKED keeps concurrent sweepers off the same rows;
// the reservation keeps the claim short-lived instead of holding row locks
// across network publishes.
func (s *Store) ClaimOutbox(ctx context.Context, limit int, reservation time.Duration) ([]*types.OutboxRecord, error) {
	query, args, err := claimOutboxQuery(limit, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox claim query: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin outbox claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox rows: %w", err)
	}

	var claimed []*types.OutboxRecord
	var ids []string
	for rows.Next() {
		rec, err := scanOutboxRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}
		claimed = append(claimed, rec)
		ids = append(ids, rec.EventID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(claimed) > 0 {
		if _, err := tx.Exec(ctx, reserveOutboxSQL, ids, time.Now().Add(reservation)); err != nil {
			return nil, fmt.Errorf("failed to reserve outbox rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit outbox claim: %w", err)
	}
	return claimed, nil
}

func scanOutboxRecord(row pgx.Row) (*types.OutboxRecord, error) {
	var rec types.OutboxRecord
	err := row.Scan(&rec.EventID, &rec.TransactionID, &rec.Topic, &rec.PartitionKey, &rec.Payload,
		&rec.Status, &rec.RetryCount, &rec.NextAttemptAt, &rec.LastError, &rec.CreatedAt, &rec.SentAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
