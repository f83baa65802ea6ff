package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const getOffsetSQL = `
SELECT last_offset
FROM consumer_offset
WHERE consumer_group = $1 AND topic = $2 AND partition = $3`

// commitOffsetSQL upserts monotonically: a replayed batch can never move the
// stored offset backwards.
const commitOffsetSQL = `
INSERT INTO consumer_offset (consumer_group, topic, partition, last_offset, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (consumer_group, topic, partition) DO UPDATE
SET last_offset = GREATEST(consumer_offset.last_offset, EXCLUDED.last_offset),
    updated_at = now()`

// Offset operations

// LastOffset returns the last committed offset for the partition and whether
// one exists. A fresh partition has none and consumption starts at the
// beginning of the log.
func (s *Store) LastOffset(ctx context.Context, group, topic string, partition int32) (int64, bool, error) {
	var offset int64
	err := s.pool.QueryRow(ctx, getOffsetSQL, group, topic, partition).Scan(&offset)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get offset: %w", err)
	}
	return offset, true, nil
}
