package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fenlabs/ballast/pkg/api"
	"github.com/fenlabs/ballast/pkg/config"
	"github.com/fenlabs/ballast/pkg/consumer"
	"github.com/fenlabs/ballast/pkg/events"
	"github.com/fenlabs/ballast/pkg/health"
	"github.com/fenlabs/ballast/pkg/lease"
	"github.com/fenlabs/ballast/pkg/log"
	"github.com/fenlabs/ballast/pkg/outbox"
	"github.com/fenlabs/ballast/pkg/service"
	"github.com/fenlabs/ballast/pkg/snapshot"
	"github.com/fenlabs/ballast/pkg/store"
	"github.com/fenlabs/ballast/pkg/transport"
)

const (
	watchdogInterval = 10 * time.Second
	watchdogTimeout  = 5 * time.Second

	// watchdogStrikes is how many consecutive failed pings of a critical
	// resource the engine tolerates before declaring itself fatal.
	watchdogStrikes = 3

	shutdownTimeout = 30 * time.Second
)

// Engine owns every long-lived component of a node and their start and stop
// order. Components never reach around it: all cross-component wiring happens
// here, through the narrow interfaces each package declares.
type Engine struct {
	cfg    *config.Config
	logger zerolog.Logger

	store    *store.Store
	redis    *redis.Client
	producer *transport.Producer
	broker   *events.Broker
	updater  *snapshot.Updater
	sweeper  *outbox.Sweeper
	workers  []*consumer.Worker
	server   *api.Server

	fatalCh chan error
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New returns a stopped engine.
func New(cfg *config.Config) *Engine {
	return &Engine{
		cfg:     cfg,
		logger:  log.WithComponent("engine"),
		fatalCh: make(chan error, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start brings the node up: relational store, topics, producer, cache
// fan-out, partition workers, outbox sweeper, and finally the HTTP server.
// A failure at any step tears down what already started and returns.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().
		Str("node_id", e.cfg.NodeID).
		Str("topic", e.cfg.Kafka.Topic).
		Ints32("partitions", e.cfg.PartitionIDs()).
		Msg("starting")

	st, err := store.New(ctx, store.Config{
		URL:            e.cfg.Postgres.URL,
		MaxConns:       e.cfg.Postgres.MaxConns,
		ConnectTimeout: e.cfg.Postgres.ConnectTimeout(),
		QueueLimit:     e.cfg.Postgres.QueueLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	e.store = st

	e.redis = redis.NewClient(&redis.Options{
		Addr:     e.cfg.Redis.Addr,
		Password: e.cfg.Redis.Password,
		DB:       e.cfg.Redis.DB,
	})

	tcfg := e.transportConfig()
	if err := transport.EnsureTopics(ctx, tcfg); err != nil {
		e.teardown()
		return fmt.Errorf("failed to ensure topics: %w", err)
	}

	producer, err := transport.NewProducer(tcfg)
	if err != nil {
		e.teardown()
		return fmt.Errorf("failed to open producer: %w", err)
	}
	e.producer = producer

	e.broker = events.NewBroker()
	e.broker.Start()

	e.updater = snapshot.NewUpdater(e.redis, snapshot.Config{
		Namespace:     e.cfg.Redis.Namespace,
		Workers:       e.cfg.Snapshot.WorkerCount,
		FlushInterval: e.cfg.Snapshot.FlushInterval(),
		QueueSize:     e.cfg.Snapshot.QueueSize,
		TTL:           e.cfg.Redis.TTL(),
	})
	if err := e.updater.Start(ctx); err != nil {
		e.teardown()
		return fmt.Errorf("failed to start snapshot updater: %w", err)
	}

	e.startWorkers(tcfg)

	e.sweeper = outbox.NewSweeper(e.store, e.producer, e.producer, outbox.SweeperConfig{
		Interval:        e.cfg.Outbox.SweepInterval(),
		ClaimLimit:      e.cfg.Outbox.ClaimLimit,
		Reservation:     e.cfg.Outbox.Reservation(),
		MaxRetries:      e.cfg.Retry.MaxRetries,
		InitialInterval: e.cfg.Retry.InitialInterval(),
		Multiplier:      e.cfg.Retry.Backoff,
		DLQTopic:        e.cfg.Retry.DLQTopic,
	}, e.broker)
	e.sweeper.Start()

	writer := outbox.NewWriter(e.store, e.producer, e.cfg.Kafka.Topic)
	cache := snapshot.NewCache(e.redis, e.cfg.Redis.Namespace)
	svc := service.New(writer, e.store, cache, e.cfg.Kafka.Partitions)

	e.server = api.NewServer(e.cfg.Server.ListenAddr, svc, e.checkers())
	go func() {
		if err := e.server.Start(); err != nil {
			e.fatal(fmt.Errorf("http server failed: %w", err))
		}
	}()

	go e.watchdog()

	e.logger.Info().Msg("started")
	return nil
}

// startWorkers launches one partition worker per configured partition, each
// with its own elector contending under this node's identity.
func (e *Engine) startWorkers(tcfg transport.Config) {
	leaseCfg := lease.Config{
		TTL:   e.cfg.Lease.TTL(),
		Renew: e.cfg.Lease.Renew(),
	}

	pollers := func(partition int32, offset int64, hasOffset bool) (consumer.LogPoller, error) {
		return transport.NewPartitionConsumer(tcfg, partition, offset, hasOffset, e.cfg.Batch.MaxLatency())
	}

	for _, partition := range e.cfg.PartitionIDs() {
		elector := lease.NewElector(
			e.store,
			LeasePartitionID(e.cfg.Kafka.Topic, partition),
			e.cfg.NodeID,
			leaseCfg,
			e.broker,
		)
		w := consumer.NewWorker(
			e.workerConfig(partition),
			e.store, e.store, elector, pollers, e.updater, e.producer, e.broker,
		)
		w.Start()
		e.workers = append(e.workers, w)
	}
}

func (e *Engine) workerConfig(partition int32) consumer.Config {
	return consumer.Config{
		Group:           e.cfg.Kafka.Group,
		Topic:           e.cfg.Kafka.Topic,
		Partition:       partition,
		MaxRecords:      e.cfg.Batch.MaxRecords,
		MaxLatency:      e.cfg.Batch.MaxLatency(),
		LongPoll:        e.cfg.Batch.LongPoll(),
		MaxRetries:      e.cfg.Retry.MaxRetries,
		InitialInterval: e.cfg.Retry.InitialInterval(),
		Multiplier:      e.cfg.Retry.Backoff,
		FollowerRetry:   e.cfg.Lease.Renew(),
		WorkingSetSize:  e.cfg.Consumer.WorkingSetSize,
		DLQTopic:        e.cfg.Retry.DLQTopic,
	}
}

func (e *Engine) transportConfig() transport.Config {
	return transport.Config{
		Brokers:           e.cfg.Kafka.Brokers,
		ClientID:          e.cfg.Kafka.ClientID,
		Topic:             e.cfg.Kafka.Topic,
		DLQTopic:          e.cfg.Retry.DLQTopic,
		Partitions:        e.cfg.Kafka.Partitions,
		ReplicationFactor: e.cfg.Kafka.ReplicationFactor,
	}
}

func (e *Engine) checkers() []health.Checker {
	return []health.Checker{
		health.NewPingChecker("postgres", e.store),
		health.NewRedisChecker(e.redis),
		health.NewPingChecker("kafka", e.producer),
	}
}

// LeasePartitionID names the lease row for one partition of a topic.
func LeasePartitionID(topic string, partition int32) string {
	return fmt.Sprintf("%s/%d", topic, partition)
}

// Fatal reports unrecoverable failures: loss of a critical resource past the
// watchdog's tolerance, or the HTTP listener dying. The caller is expected
// to shut down and exit.
func (e *Engine) Fatal() <-chan error {
	return e.fatalCh
}

func (e *Engine) fatal(err error) {
	select {
	case e.fatalCh <- err:
	default:
	}
}

// watchdog pings the critical resources. Postgres and Kafka failures past
// the strike budget are fatal: without them the node can neither accept nor
// apply mutations. Redis is deliberately excluded; the cache is best effort
// and readers fall back to the store.
func (e *Engine) watchdog() {
	defer close(e.doneCh)

	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	strikes := map[string]int{}
	critical := []health.Checker{
		health.NewPingChecker("postgres", e.store),
		health.NewPingChecker("kafka", e.producer),
	}

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			failures := health.CheckAll(context.Background(), watchdogTimeout, critical)
			for _, c := range critical {
				name := c.Name()
				if err, ok := failures[name]; ok {
					strikes[name]++
					e.logger.Warn().
						Err(err).
						Str("resource", name).
						Int("strikes", strikes[name]).
						Msg("critical resource unreachable")
					if strikes[name] >= watchdogStrikes {
						e.fatal(fmt.Errorf("lost %s: %w", name, err))
						return
					}
				} else {
					strikes[name] = 0
				}
			}
		}
	}
}

// Shutdown stops the node in reverse of start order: stop accepting traffic,
// drain the workers (releasing their leases), stop the sweeper and the cache
// fan-out, then close the clients.
func (e *Engine) Shutdown(ctx context.Context) {
	e.logger.Info().Msg("shutting down")

	close(e.stopCh)

	if e.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := e.server.Shutdown(shutdownCtx); err != nil {
			e.logger.Warn().Err(err).Msg("http server shutdown failed")
		}
		cancel()
	}

	for _, w := range e.workers {
		w.Stop()
	}
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.updater != nil {
		e.updater.Stop()
	}
	if e.broker != nil {
		e.broker.Stop()
	}

	e.teardown()

	<-e.doneCh
	e.logger.Info().Msg("stopped")
}

// teardown closes the external clients. Safe to call with any subset open.
func (e *Engine) teardown() {
	if e.producer != nil {
		e.producer.Close()
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("redis close failed")
		}
	}
	if e.store != nil {
		e.store.Close()
	}
}
