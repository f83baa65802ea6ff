package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fenlabs/ballast/pkg/log"
	"github.com/fenlabs/ballast/pkg/metrics"
	"github.com/fenlabs/ballast/pkg/types"
)

// Store is the slice of the relational store the writer needs.
type Store interface {
	InsertOutbox(ctx context.Context, rec *types.OutboxRecord) error
	MarkOutboxSent(ctx context.Context, eventID string) error
	MarkOutboxFailed(ctx context.Context, eventID string, retryCount int32, nextAttempt time.Time, lastError string) error
}

// Producer publishes a payload to the durable log.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// Writer bridges an accepted mutation into the durable log without a dual
// write: the outbox row commits first and is the single source of truth for
// "the request exists". Publication happens after the commit; a lost publish
// is reconciled by the sweeper, and duplicated deliveries are absorbed
// downstream by the ledger's transaction-id index.
type Writer struct {
	store    Store
	producer Producer
	topic    string
	logger   zerolog.Logger
}

// NewWriter returns a writer publishing to topic.
func NewWriter(store Store, producer Producer, topic string) *Writer {
	return &Writer{
		store:    store,
		producer: producer,
		topic:    topic,
		logger:   log.WithComponent("outbox"),
	}
}

// Enqueue accepts a validated mutation: it mints an event id, commits the
// pending outbox row, then attempts the log publication. The returned event
// id is valid as soon as the row committed; publication failures never
// surface to the caller.
//
// A transaction id already present in the outbox is a Duplicate. A database
// failure is Transient and the caller retries with the same transaction id.
func (w *Writer) Enqueue(ctx context.Context, m *types.MutationRequest) (string, error) {
	payload, err := m.Encode()
	if err != nil {
		return "", types.WrapE(types.KindValidation, "failed to encode mutation", err)
	}

	rec := &types.OutboxRecord{
		EventID:       uuid.NewString(),
		TransactionID: m.TransactionID,
		Topic:         w.topic,
		PartitionKey:  m.PartitionKey,
		Payload:       payload,
	}

	if err := w.store.InsertOutbox(ctx, rec); err != nil {
		return "", err
	}
	metrics.MutationsAccepted.WithLabelValues(string(m.Kind)).Inc()

	w.publish(ctx, rec)
	return rec.EventID, nil
}

// publish makes the inline publication attempt. Failures only mark the row;
// the sweeper picks it up later.
func (w *Writer) publish(ctx context.Context, rec *types.OutboxRecord) {
	headers := map[string]string{
		types.HeaderEventID:       rec.EventID,
		types.HeaderTransactionID: rec.TransactionID,
	}

	if err := w.producer.Publish(ctx, rec.Topic, rec.PartitionKey, rec.Payload, headers); err != nil {
		w.logger.Warn().Err(err).
			Str("event_id", rec.EventID).
			Str("transaction_id", rec.TransactionID).
			Msg("inline publish failed, leaving row for sweeper")
		if markErr := w.store.MarkOutboxFailed(ctx, rec.EventID, 1, time.Now(), err.Error()); markErr != nil {
			w.logger.Error().Err(markErr).Str("event_id", rec.EventID).Msg("failed to mark outbox row failed")
		}
		return
	}

	metrics.OutboxPublished.WithLabelValues("inline").Inc()
	if err := w.store.MarkOutboxSent(ctx, rec.EventID); err != nil {
		// The record is in the log; the row stays pending and the sweeper
		// will republish it. The consumer dedups the extra delivery.
		w.logger.Warn().Err(err).Str("event_id", rec.EventID).Msg("failed to mark outbox row sent")
	}
}
