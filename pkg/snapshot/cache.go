package snapshot

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/fenlabs/ballast/pkg/types"
)

// Cache is the read side of the snapshot layer. Values may trail the
// authoritative store by up to the flush interval; callers that need exact
// state read the store instead.
type Cache struct {
	client    *redis.Client
	namespace string
}

// NewCache returns a reader over the snapshot namespace.
func NewCache(client *redis.Client, namespace string) *Cache {
	return &Cache{client: client, namespace: namespace}
}

// Get returns the cached balance for key, or (nil, nil) on a cache miss.
// A corrupt entry is reported as an error; callers fall back to the store.
func (c *Cache) Get(ctx context.Context, key types.BalanceKey) (*types.Balance, error) {
	fields, err := c.client.HGetAll(ctx, Key(c.namespace, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	val, ok := fields["val"]
	if !ok {
		return nil, nil
	}

	var snap types.BalanceSnapshot
	if err := msgpack.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap.Balance()
}
