package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fenlabs/ballast/pkg/types"
)

// PartitionConsumer reads one partition directly at an explicit offset. The
// consumer group abstraction of the broker is deliberately not used: offsets
// live in the relational store so they commit atomically with balances, and
// partition assignment is decided by lease ownership, not by a group
// rebalance protocol.
type PartitionConsumer struct {
	client    *kgo.Client
	topic     string
	partition int32
}

// NewPartitionConsumer opens a direct consumer on (topic, partition).
// When hasOffset is true, consumption resumes at offset+1 (the record after
// the last committed one); otherwise it starts at the beginning of the log.
func NewPartitionConsumer(cfg Config, partition int32, offset int64, hasOffset bool, maxWait time.Duration) (*PartitionConsumer, error) {
	start := kgo.NewOffset().AtStart()
	if hasOffset {
		start = kgo.NewOffset().At(offset + 1)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(fmt.Sprintf("%s-p%d", cfg.ClientID, partition)),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			cfg.Topic: {partition: start},
		}),
		kgo.FetchMaxWait(maxWait),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create partition consumer: %w", err)
	}

	return &PartitionConsumer{
		client:    client,
		topic:     cfg.Topic,
		partition: partition,
	}, nil
}

// Poll fetches records, waiting at most timeout. An empty result is a normal
// idle poll; errors are transport failures the worker treats as transient.
func (c *PartitionConsumer) Poll(ctx context.Context, timeout time.Duration) ([]*types.LogRecord, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := c.client.PollFetches(pollCtx)
	for _, fe := range fetches.Errors() {
		if isPollCancel(fe.Err) {
			continue
		}
		return nil, types.WrapE(types.KindTransient,
			fmt.Sprintf("fetch failed on %s/%d", fe.Topic, fe.Partition), fe.Err)
	}

	var out []*types.LogRecord
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, toLogRecord(r))
	})
	return out, nil
}

// Close releases the consumer client. Unpolled records remain in the log;
// nothing is committed broker-side.
func (c *PartitionConsumer) Close() {
	c.client.Close()
}
