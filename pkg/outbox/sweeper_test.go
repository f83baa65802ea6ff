package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenlabs/ballast/pkg/events"
	"github.com/fenlabs/ballast/pkg/types"
)

func testSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:        10 * time.Millisecond,
		ClaimLimit:      100,
		Reservation:     time.Minute,
		MaxRetries:      3,
		InitialInterval: time.Second,
		Multiplier:      2.0,
		DLQTopic:        "balance-changes-dlq",
	}
}

func newTestSweeper(store SweepStore, producer *fakeProducer) (*Sweeper, *events.Broker) {
	broker := events.NewBroker()
	broker.Start()
	return NewSweeper(store, producer, producer, testSweeperConfig(), broker), broker
}

func TestSweepRepublishesDueRows(t *testing.T) {
	store := newFakeOutboxStore()
	producer := &fakeProducer{}

	// Simulate a row whose inline publish was lost: pending and due.
	require.NoError(t, store.InsertOutbox(context.Background(), &types.OutboxRecord{
		EventID:       "ev-1",
		TransactionID: "t1",
		Topic:         "balance-changes",
		PartitionKey:  "1",
		Payload:       []byte(`{}`),
	}))

	s, broker := newTestSweeper(store, producer)
	defer broker.Stop()

	require.NoError(t, s.sweep(context.Background()))

	require.Len(t, producer.calls, 1)
	assert.Equal(t, "ev-1", producer.calls[0].headers[types.HeaderEventID], "event id preserved on republish")
	assert.Equal(t, []string{"ev-1"}, store.sent)
}

func TestSweepReschedulesOnPublishFailure(t *testing.T) {
	store := newFakeOutboxStore()
	producer := &fakeProducer{publishErr: errors.New("still down")}

	require.NoError(t, store.InsertOutbox(context.Background(), &types.OutboxRecord{
		EventID:       "ev-1",
		TransactionID: "t1",
		Topic:         "balance-changes",
		PartitionKey:  "1",
		Payload:       []byte(`{}`),
	}))

	s, broker := newTestSweeper(store, producer)
	defer broker.Stop()

	require.NoError(t, s.sweep(context.Background()))

	assert.Equal(t, []string{"ev-1"}, store.failed)
	assert.Equal(t, int32(1), store.rows["ev-1"].RetryCount)
	assert.Empty(t, store.dead)
}

func TestSweepEscalatesExhaustedRows(t *testing.T) {
	store := newFakeOutboxStore()
	producer := &fakeProducer{}

	require.NoError(t, store.InsertOutbox(context.Background(), &types.OutboxRecord{
		EventID:       "ev-1",
		TransactionID: "t1",
		Topic:         "balance-changes",
		PartitionKey:  "1",
		Payload:       []byte(`{"kind":"deposit"}`),
	}))
	store.rows["ev-1"].Status = types.OutboxFailed
	store.rows["ev-1"].RetryCount = 3
	store.rows["ev-1"].LastError = "broker down"

	s, broker := newTestSweeper(store, producer)
	defer broker.Stop()

	require.NoError(t, s.sweep(context.Background()))

	assert.Empty(t, producer.calls, "exhausted rows are not republished")
	require.Len(t, producer.deadLetters, 1)
	d := producer.deadLetters[0]
	assert.Equal(t, "balance-changes", d.OriginalTopic)
	assert.Equal(t, []byte(`{"kind":"deposit"}`), d.OriginalValue)
	assert.Equal(t, int32(3), d.RetryCount)
	assert.Equal(t, string(types.KindDLQ), d.ErrorKind)
	assert.Equal(t, "broker down", d.ErrorMessage)

	assert.Equal(t, []string{"ev-1"}, store.dead)
	assert.Equal(t, types.OutboxDead, store.rows["ev-1"].Status)
}

func TestNextRetryInGrowsAndCaps(t *testing.T) {
	cfg := testSweeperConfig()

	first := nextRetryIn(cfg, 1)
	assert.GreaterOrEqual(t, first, time.Second)
	assert.Less(t, first, 1200*time.Millisecond)

	third := nextRetryIn(cfg, 3)
	assert.GreaterOrEqual(t, third, 4*time.Second)
	assert.Less(t, third, 4400*time.Millisecond)

	huge := nextRetryIn(cfg, 60)
	assert.LessOrEqual(t, huge, 5*time.Minute)
}

func TestSweeperStartStop(t *testing.T) {
	store := newFakeOutboxStore()
	producer := &fakeProducer{}

	s, broker := newTestSweeper(store, producer)
	defer broker.Stop()

	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}
