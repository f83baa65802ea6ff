package transport

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fenlabs/ballast/pkg/log"
	"github.com/fenlabs/ballast/pkg/types"
)

// Producer publishes mutation payloads and dead-letter envelopes. Publishes
// are synchronous: the outbox writer needs to know whether the log accepted
// the record before it can mark the row sent.
type Producer struct {
	client *kgo.Client
	logger zerolog.Logger
}

// NewProducer connects a producer client to the brokers.
func NewProducer(cfg Config) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		// Keyed records must stay in order within a partition; one in-flight
		// request per broker removes reordering on retry.
		kgo.MaxProduceRequestsInflightPerBroker(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return &Producer{
		client: client,
		logger: log.WithComponent("producer"),
	}, nil
}

// Publish synchronously produces one record keyed by key, so every mutation
// of the same account lands on the same partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	rec := &kgo.Record{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: toHeaders(headers),
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return types.WrapE(types.KindTransient, "failed to publish record", err)
	}
	return nil
}

// PublishDeadLetter routes a dead-letter envelope to the DLQ topic, keyed by
// the original record key for traceability.
func (p *Producer) PublishDeadLetter(ctx context.Context, topic string, d *types.DeadLetter) error {
	payload, err := d.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	rec := &kgo.Record{
		Topic: topic,
		Key:   d.OriginalKey,
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return types.WrapE(types.KindTransient, "failed to publish dead letter", err)
	}
	return nil
}

// Ping verifies broker connectivity.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes and releases the client.
func (p *Producer) Close() {
	p.client.Close()
}
