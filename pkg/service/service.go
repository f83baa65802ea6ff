package service

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/fenlabs/ballast/pkg/log"
	"github.com/fenlabs/ballast/pkg/metrics"
	"github.com/fenlabs/ballast/pkg/types"
)

// maxHistoryLimit caps one ledger history page.
const maxHistoryLimit = 500

// Enqueuer accepts a validated mutation into the outbox.
type Enqueuer interface {
	Enqueue(ctx context.Context, m *types.MutationRequest) (string, error)
}

// Store is the relational slice the service reads.
type Store interface {
	GetBalance(ctx context.Context, key types.BalanceKey) (*types.Balance, error)
	GetLedgerEntry(ctx context.Context, transactionID string) (*types.LedgerEntry, error)
	ListLedger(ctx context.Context, key types.BalanceKey, limit int) ([]*types.LedgerEntry, error)
	CreateAccount(ctx context.Context, accountKey string, shardID int32) (*types.Account, error)
	GetAccount(ctx context.Context, accountKey string) (*types.Account, error)
}

// Cache is the snapshot read path. Nil results are misses, not errors.
type Cache interface {
	Get(ctx context.Context, key types.BalanceKey) (*types.Balance, error)
}

// Service is the core's inbound call surface: the request adapter calls it,
// and it owns nothing but the wiring between validation, the outbox, and
// the two read paths.
type Service struct {
	enqueuer   Enqueuer
	store      Store
	cache      Cache
	partitions int32
	logger     zerolog.Logger
}

// New wires the service. partitions is the mutation topic's partition count,
// used to place new accounts on a stable shard.
func New(enqueuer Enqueuer, store Store, cache Cache, partitions int32) *Service {
	return &Service{
		enqueuer:   enqueuer,
		store:      store,
		cache:      cache,
		partitions: partitions,
		logger:     log.WithComponent("service"),
	}
}

// Mutate validates and accepts one mutation. Success means the request is
// durable in the outbox and will be applied asynchronously; the returned
// event id identifies the acceptance, and TransactionStatus reports the
// outcome once a partition worker has processed it.
//
// Error kinds: ValidationError for a malformed request, Duplicate for a
// transaction id already accepted, Transient when the store is unavailable
// (safe to retry with the same transaction id).
func (s *Service) Mutate(ctx context.Context, m *types.MutationRequest) (string, error) {
	if m.PartitionKey == "" {
		// All mutations of an account must share a partition; the account id
		// is the stable key.
		m.PartitionKey = strconv.FormatInt(m.AccountID, 10)
	}
	if err := m.Validate(); err != nil {
		metrics.MutationsRejected.WithLabelValues(string(types.KindValidation)).Inc()
		return "", err
	}

	eventID, err := s.enqueuer.Enqueue(ctx, m)
	if err != nil {
		metrics.MutationsRejected.WithLabelValues(string(types.KindOf(err))).Inc()
		return "", err
	}
	return eventID, nil
}

// Query returns the balance for (account, currency), serving from the cache
// when possible and falling back to the authoritative store. A cache hit may
// trail the store by up to the snapshot flush interval.
func (s *Service) Query(ctx context.Context, accountID int64, currency string) (*types.Balance, error) {
	key := types.BalanceKey{AccountID: accountID, Currency: currency}

	if b, err := s.cache.Get(ctx, key); err == nil && b != nil {
		metrics.BalanceReads.WithLabelValues("cache").Inc()
		return b, nil
	} else if err != nil {
		s.logger.Debug().Err(err).Msg("cache read failed, falling back to store")
	}

	b, err := s.store.GetBalance(ctx, key)
	if err != nil {
		return nil, types.WrapE(types.KindTransient, "failed to read balance", err)
	}
	if b == nil {
		return nil, types.Ef(types.KindUnknownBalance, "no balance for account %d currency %s", accountID, currency)
	}
	metrics.BalanceReads.WithLabelValues("store").Inc()
	return b, nil
}

// TransactionStatus reports the ledger outcome for a transaction id, or
// (nil, nil) when no worker has processed it yet.
func (s *Service) TransactionStatus(ctx context.Context, transactionID string) (*types.LedgerEntry, error) {
	e, err := s.store.GetLedgerEntry(ctx, transactionID)
	if err != nil {
		return nil, types.WrapE(types.KindTransient, "failed to read ledger entry", err)
	}
	return e, nil
}

// LedgerHistory returns the most recent ledger rows for (account, currency),
// newest first. This always reads the authoritative store: history is an
// audit surface and must not trail like the snapshot cache.
func (s *Service) LedgerHistory(ctx context.Context, accountID int64, currency string, limit int) ([]*types.LedgerEntry, error) {
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := s.store.ListLedger(ctx, types.BalanceKey{AccountID: accountID, Currency: currency}, limit)
	if err != nil {
		return nil, types.WrapE(types.KindTransient, "failed to read ledger history", err)
	}
	return entries, nil
}

// CreateAccount registers a business account on a stable shard. This is the
// administrative path; the write pipeline only ever reads accounts.
func (s *Service) CreateAccount(ctx context.Context, accountKey string) (*types.Account, error) {
	if accountKey == "" {
		return nil, types.E(types.KindValidation, "account key is required")
	}
	return s.store.CreateAccount(ctx, accountKey, shardOf(accountKey, s.partitions))
}

// GetAccount returns the account for a business key, or (nil, nil).
func (s *Service) GetAccount(ctx context.Context, accountKey string) (*types.Account, error) {
	return s.store.GetAccount(ctx, accountKey)
}

// shardOf maps an account key onto a stable shard.
func shardOf(accountKey string, partitions int32) int32 {
	h := fnv.New32a()
	h.Write([]byte(accountKey))
	return int32(h.Sum32() % uint32(partitions))
}
