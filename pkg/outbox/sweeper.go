package outbox

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/fenlabs/ballast/pkg/events"
	"github.com/fenlabs/ballast/pkg/log"
	"github.com/fenlabs/ballast/pkg/metrics"
	"github.com/fenlabs/ballast/pkg/types"
)

// SweepStore is the slice of the relational store the sweeper needs.
type SweepStore interface {
	ClaimOutbox(ctx context.Context, limit int, reservation time.Duration) ([]*types.OutboxRecord, error)
	MarkOutboxSent(ctx context.Context, eventID string) error
	MarkOutboxFailed(ctx context.Context, eventID string, retryCount int32, nextAttempt time.Time, lastError string) error
	MarkOutboxDead(ctx context.Context, eventID string, lastError string) error
}

// DeadLetterer publishes an envelope to the dead-letter topic.
type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, topic string, d *types.DeadLetter) error
}

// SweeperConfig tunes the reconciliation loop.
type SweeperConfig struct {
	Interval    time.Duration
	ClaimLimit  int
	Reservation time.Duration

	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
	DLQTopic        string
}

// Sweeper republishes outbox rows whose inline publication was lost: rows
// stuck pending past their reservation and failed rows due for retry. The
// retry budget is bounded; exhausted rows are wrapped in a dead-letter
// envelope, published to the DLQ topic, and parked as dead. Event ids are
// preserved across republishes so downstream deduplication holds.
type Sweeper struct {
	store    SweepStore
	producer Producer
	dlq      DeadLetterer
	cfg      SweeperConfig
	broker   *events.Broker

	logger zerolog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper returns a stopped sweeper.
func NewSweeper(store SweepStore, producer Producer, dlq DeadLetterer, cfg SweeperConfig, broker *events.Broker) *Sweeper {
	return &Sweeper{
		store:    store,
		producer: producer,
		dlq:      dlq,
		cfg:      cfg,
		broker:   broker,
		logger:   log.WithComponent("sweeper"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.sweep(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("sweep pass failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// sweep claims one batch of due rows and disposes of each: republish,
// reschedule, or escalate.
func (s *Sweeper) sweep(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)

	claimed, err := s.store.ClaimOutbox(ctx, s.cfg.ClaimLimit, s.cfg.Reservation)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}
	metrics.OutboxSwept.Add(float64(len(claimed)))

	for _, rec := range claimed {
		select {
		case <-s.stopCh:
			// Unfinished rows become due again when the reservation lapses.
			return nil
		default:
		}
		s.dispose(ctx, rec)
	}
	return nil
}

func (s *Sweeper) dispose(ctx context.Context, rec *types.OutboxRecord) {
	if int(rec.RetryCount) >= s.cfg.MaxRetries {
		s.escalate(ctx, rec)
		return
	}

	headers := map[string]string{
		types.HeaderEventID:       rec.EventID,
		types.HeaderTransactionID: rec.TransactionID,
	}
	if err := s.producer.Publish(ctx, rec.Topic, rec.PartitionKey, rec.Payload, headers); err != nil {
		retry := rec.RetryCount + 1
		next := time.Now().Add(nextRetryIn(s.cfg, int(retry)))
		s.logger.Warn().Err(err).
			Str("event_id", rec.EventID).
			Int32("retry_count", retry).
			Time("next_attempt", next).
			Msg("republish failed")
		if markErr := s.store.MarkOutboxFailed(ctx, rec.EventID, retry, next, err.Error()); markErr != nil {
			s.logger.Error().Err(markErr).Str("event_id", rec.EventID).Msg("failed to reschedule outbox row")
		}
		return
	}

	metrics.OutboxPublished.WithLabelValues("sweeper").Inc()
	s.broker.Emit(events.EventSweepRecovered, "", rec.EventID)
	if err := s.store.MarkOutboxSent(ctx, rec.EventID); err != nil {
		s.logger.Warn().Err(err).Str("event_id", rec.EventID).Msg("failed to mark swept row sent")
	}
}

// escalate wraps an exhausted row in a dead-letter envelope, publishes it to
// the DLQ topic, and parks the row. The row is only marked dead after the
// envelope is in the log, so an escalation that dies mid-way is retried.
func (s *Sweeper) escalate(ctx context.Context, rec *types.OutboxRecord) {
	d := &types.DeadLetter{
		OriginalTopic: rec.Topic,
		OriginalKey:   []byte(rec.PartitionKey),
		OriginalValue: rec.Payload,
		FailedAt:      time.Now().UTC(),
		RetryCount:    rec.RetryCount,
		ErrorKind:     string(types.KindDLQ),
		ErrorMessage:  rec.LastError,
	}
	if err := s.dlq.PublishDeadLetter(ctx, s.cfg.DLQTopic, d); err != nil {
		s.logger.Error().Err(err).Str("event_id", rec.EventID).Msg("failed to publish dead letter")
		return
	}

	metrics.OutboxDead.Inc()
	s.broker.Emit(events.EventOutboxDead, "", rec.EventID)
	s.logger.Warn().
		Str("event_id", rec.EventID).
		Str("transaction_id", rec.TransactionID).
		Int32("retry_count", rec.RetryCount).
		Msg("outbox row escalated to dead letter topic")

	if err := s.store.MarkOutboxDead(ctx, rec.EventID, rec.LastError); err != nil {
		s.logger.Error().Err(err).Str("event_id", rec.EventID).Msg("failed to mark outbox row dead")
	}
}

// nextRetryIn returns the backoff before attempt n (1-based): exponential on
// the configured multiplier with up to 10% jitter, capped at five minutes.
func nextRetryIn(cfg SweeperConfig, attempt int) time.Duration {
	const maxBackoff = 5 * time.Minute

	d := float64(cfg.InitialInterval)
	for i := 1; i < attempt; i++ {
		d *= cfg.Multiplier
		if time.Duration(d) > maxBackoff {
			d = float64(maxBackoff)
			break
		}
	}
	jitter := 1 + rand.Float64()*0.1
	out := time.Duration(d * jitter)
	if out > maxBackoff {
		out = maxBackoff
	}
	return out
}
