package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/fenlabs/ballast/pkg/log"
	"github.com/fenlabs/ballast/pkg/metrics"
	"github.com/fenlabs/ballast/pkg/types"
)

// lwwScript writes the snapshot only when its logical timestamp strictly
// exceeds the stored one. Executed atomically by Redis, so concurrent shard
// flushes for different versions of the same key cannot interleave a stale
// value over a fresh one.
const lwwScript = `
local ts = redis.call('HGET', KEYS[1], 'ts')
if ts and tonumber(ts) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'val', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`

// Config tunes the cache fan-out.
type Config struct {
	Namespace     string
	Workers       int
	FlushInterval time.Duration
	QueueSize     int
	TTL           time.Duration
}

// Updater fans freshly committed balances out to Redis. Best effort by
// design: the relational store is authoritative, a reader that misses the
// cache falls back to it, and a dropped update is corrected by the next
// commit of the same key.
//
// Keys are sharded across workers by account id so one worker owns each key;
// within a worker updates coalesce per key between flushes, keeping only the
// highest version.
type Updater struct {
	client *redis.Client
	script *redis.Script
	cfg    Config

	queues []chan *types.Balance
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewUpdater returns a stopped updater.
func NewUpdater(client *redis.Client, cfg Config) *Updater {
	queues := make([]chan *types.Balance, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan *types.Balance, cfg.QueueSize)
	}
	return &Updater{
		client: client,
		script: redis.NewScript(lwwScript),
		cfg:    cfg,
		queues: queues,
		stopCh: make(chan struct{}),
		logger: log.WithComponent("snapshot"),
	}
}

// Start loads the script and launches the shard workers.
func (u *Updater) Start(ctx context.Context) error {
	if err := u.script.Load(ctx, u.client).Err(); err != nil {
		return fmt.Errorf("failed to load snapshot script: %w", err)
	}
	u.wg.Add(len(u.queues))
	for i := range u.queues {
		go func(shard int) {
			defer u.wg.Done()
			u.runShard(shard)
		}(i)
	}
	return nil
}

// Stop signals the shards and waits for their final flush.
func (u *Updater) Stop() {
	close(u.stopCh)
	u.wg.Wait()
}

// Enqueue hands a committed balance to its shard. Never blocks: a full
// queue drops the update and the next commit of the key repairs the cache.
func (u *Updater) Enqueue(b *types.Balance) {
	shard := int(b.AccountID % int64(len(u.queues)))
	select {
	case u.queues[shard] <- b:
		metrics.SnapshotQueueDepth.Inc()
	default:
		metrics.SnapshotUpdates.WithLabelValues("dropped").Inc()
	}
}

func (u *Updater) runShard(shard int) {
	ticker := time.NewTicker(u.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make(map[types.BalanceKey]*types.Balance)
	for {
		select {
		case b := <-u.queues[shard]:
			metrics.SnapshotQueueDepth.Dec()
			coalesce(pending, b)
		case <-ticker.C:
			u.flush(pending)
			pending = make(map[types.BalanceKey]*types.Balance)
		case <-u.stopCh:
			u.drain(shard, pending)
			u.flush(pending)
			return
		}
	}
}

// drain empties the shard queue during shutdown so committed balances in
// flight still reach the cache.
func (u *Updater) drain(shard int, pending map[types.BalanceKey]*types.Balance) {
	for {
		select {
		case b := <-u.queues[shard]:
			metrics.SnapshotQueueDepth.Dec()
			coalesce(pending, b)
		default:
			return
		}
	}
}

// flush writes every pending key in one pipelined round trip.
func (u *Updater) flush(pending map[types.BalanceKey]*types.Balance) {
	if len(pending) == 0 {
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SnapshotFlushDuration)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type entry struct {
		key types.BalanceKey
		cmd *redis.Cmd
	}

	pipe := u.client.Pipeline()
	entries := make([]entry, 0, len(pending))
	for key, b := range pending {
		val, err := msgpack.Marshal(types.SnapshotOf(b))
		if err != nil {
			u.logger.Error().Err(err).
				Int64("account_id", key.AccountID).
				Str("currency", key.Currency).
				Msg("failed to encode snapshot")
			metrics.SnapshotUpdates.WithLabelValues("error").Inc()
			continue
		}
		cmd := u.script.EvalSha(ctx, pipe,
			[]string{Key(u.cfg.Namespace, key)},
			b.Version, val, u.cfg.TTL.Milliseconds())
		entries = append(entries, entry{key: key, cmd: cmd})
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		u.logger.Warn().Err(err).Int("keys", len(entries)).Msg("snapshot flush failed")
	}

	for _, e := range entries {
		applied, err := e.cmd.Int64()
		switch {
		case err != nil:
			metrics.SnapshotUpdates.WithLabelValues("error").Inc()
		case applied == 1:
			metrics.SnapshotUpdates.WithLabelValues("applied").Inc()
		default:
			metrics.SnapshotUpdates.WithLabelValues("stale").Inc()
		}
	}
}

// coalesce keeps only the highest version per key between flushes.
func coalesce(pending map[types.BalanceKey]*types.Balance, b *types.Balance) {
	key := b.Key()
	if cur, ok := pending[key]; ok && cur.Version >= b.Version {
		return
	}
	pending[key] = b
}

// Key returns the cache key for one (account, currency) pair.
func Key(namespace string, key types.BalanceKey) string {
	return fmt.Sprintf("%s:%d:%s", namespace, key.AccountID, key.Currency)
}
