package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fenlabs/ballast/pkg/types"
)

// Config holds the durable-log connection settings.
type Config struct {
	Brokers           []string
	ClientID          string
	Topic             string
	DLQTopic          string
	Partitions        int32
	ReplicationFactor int16
}

// EnsureTopics creates the mutation topic and its dead-letter topic if they
// do not exist. The DLQ is a single partition; ordering across dead records
// is not meaningful and one partition keeps replay tooling simple.
func EnsureTopics(ctx context.Context, cfg Config) error {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
	)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer cl.Close()

	adm := kadm.NewClient(cl)

	for _, t := range []struct {
		name       string
		partitions int32
	}{
		{cfg.Topic, cfg.Partitions},
		{cfg.DLQTopic, 1},
	} {
		resp, err := adm.CreateTopics(ctx, t.partitions, cfg.ReplicationFactor, nil, t.name)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", t.name, err)
		}
		for _, r := range resp {
			if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
				return fmt.Errorf("failed to create topic %s: %w", r.Topic, r.Err)
			}
		}
	}
	return nil
}

// toLogRecord converts a fetched Kafka record into the transport-agnostic
// form the consumer works with.
func toLogRecord(r *kgo.Record) *types.LogRecord {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &types.LogRecord{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
	}
}

func toHeaders(headers map[string]string) []kgo.RecordHeader {
	out := make([]kgo.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return out
}

// isPollCancel distinguishes poll deadlines from real fetch errors: deadline
// and cancellation are normal control flow for a bounded poll.
func isPollCancel(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
