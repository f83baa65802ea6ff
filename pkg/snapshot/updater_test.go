package snapshot

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fenlabs/ballast/pkg/types"
)

func bal(account int64, currency string, version int64) *types.Balance {
	return &types.Balance{
		AccountID: account,
		Currency:  currency,
		Available: decimal.RequireFromString("100.00"),
		Frozen:    decimal.Zero,
		Version:   version,
		UpdatedAt: time.Now(),
	}
}

func TestCoalesceKeepsHighestVersion(t *testing.T) {
	pending := make(map[types.BalanceKey]*types.Balance)

	coalesce(pending, bal(1, "USDT", 3))
	coalesce(pending, bal(1, "USDT", 5))
	coalesce(pending, bal(1, "USDT", 4)) // out of order arrival

	key := types.BalanceKey{AccountID: 1, Currency: "USDT"}
	assert.Len(t, pending, 1)
	assert.Equal(t, int64(5), pending[key].Version)
}

func TestCoalesceSeparatesKeys(t *testing.T) {
	pending := make(map[types.BalanceKey]*types.Balance)

	coalesce(pending, bal(1, "USDT", 1))
	coalesce(pending, bal(1, "BTC", 1))
	coalesce(pending, bal(2, "USDT", 1))

	assert.Len(t, pending, 3)
}

func TestKeyLayout(t *testing.T) {
	key := Key("balances", types.BalanceKey{AccountID: 42, Currency: "USDT"})
	assert.Equal(t, "balances:42:USDT", key)
}

func TestLWWScriptShape(t *testing.T) {
	// The script must compare the stored timestamp strictly: equal versions
	// do not overwrite, or a replayed flush could clobber a concurrent one.
	assert.Contains(t, lwwScript, "tonumber(ts) >= tonumber(ARGV[1])")
	assert.Contains(t, lwwScript, "'ts', ARGV[1], 'val', ARGV[2]")
	assert.True(t, strings.Contains(lwwScript, "PEXPIRE"))
}

func TestEnqueueShardsByAccount(t *testing.T) {
	u := NewUpdater(nil, Config{
		Namespace:     "balances",
		Workers:       4,
		FlushInterval: 100 * time.Millisecond,
		QueueSize:     8,
	})

	u.Enqueue(bal(5, "USDT", 1)) // 5 mod 4 = shard 1
	u.Enqueue(bal(9, "USDT", 1)) // 9 mod 4 = shard 1
	u.Enqueue(bal(2, "USDT", 1)) // shard 2

	assert.Len(t, u.queues[1], 2)
	assert.Len(t, u.queues[2], 1)
	assert.Empty(t, u.queues[0])
	assert.Empty(t, u.queues[3])
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	u := NewUpdater(nil, Config{
		Namespace:     "balances",
		Workers:       1,
		FlushInterval: 100 * time.Millisecond,
		QueueSize:     2,
	})

	u.Enqueue(bal(1, "USDT", 1))
	u.Enqueue(bal(1, "USDT", 2))
	u.Enqueue(bal(1, "USDT", 3)) // queue full, silently dropped

	assert.Len(t, u.queues[0], 2)
}
