package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/fenlabs/ballast/pkg/log"
	"github.com/fenlabs/ballast/pkg/types"
)

// psql builds queries with Postgres placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Config holds the relational store settings.
type Config struct {
	URL            string
	MaxConns       int32
	ConnectTimeout time.Duration

	// QueueLimit bounds caller-facing operations: MaxConns requests execute
	// while QueueLimit more wait for a connection, and anything beyond that
	// fails fast as Transient instead of piling onto the pool. Zero disables
	// the gate.
	QueueLimit int
}

// Store is the Postgres-backed persistence layer: balances, ledger, outbox,
// leases, and consumer offsets all live behind it.
type Store struct {
	pool   *pgxpool.Pool
	gate   chan struct{}
	logger zerolog.Logger
}

// New opens the connection pool and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	var gate chan struct{}
	if cfg.QueueLimit > 0 {
		gate = make(chan struct{}, int(poolCfg.MaxConns)+cfg.QueueLimit)
	}

	return &Store{
		pool:   pool,
		gate:   gate,
		logger: log.WithComponent("store"),
	}, nil
}

// enter claims a slot in the request gate and returns its release. Only the
// caller-facing operations pass through here; the partition pipeline and
// lease bookkeeping bypass the gate so partition progress never queues
// behind request traffic.
func (s *Store) enter() (func(), error) {
	if s.gate == nil {
		return func() {}, nil
	}
	select {
	case s.gate <- struct{}{}:
		return func() { <-s.gate }, nil
	default:
		return nil, types.E(types.KindTransient, "store request queue is full")
	}
}

// Ping verifies the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
