package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenlabs/ballast/pkg/types"
)

type fakeOutboxStore struct {
	mu sync.Mutex

	rows      map[string]*types.OutboxRecord
	byTxID    map[string]string
	insertErr error

	sent   []string
	failed []string
	dead   []string
}

func newFakeOutboxStore() *fakeOutboxStore {
	return &fakeOutboxStore{
		rows:   make(map[string]*types.OutboxRecord),
		byTxID: make(map[string]string),
	}
}

func (f *fakeOutboxStore) InsertOutbox(_ context.Context, rec *types.OutboxRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.byTxID[rec.TransactionID]; ok {
		return types.Ef(types.KindDuplicate, "transaction %s already accepted", rec.TransactionID)
	}
	cp := *rec
	cp.Status = types.OutboxPending
	f.rows[rec.EventID] = &cp
	f.byTxID[rec.TransactionID] = rec.EventID
	return nil
}

func (f *fakeOutboxStore) MarkOutboxSent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, eventID)
	if r, ok := f.rows[eventID]; ok {
		r.Status = types.OutboxSent
	}
	return nil
}

func (f *fakeOutboxStore) MarkOutboxFailed(_ context.Context, eventID string, retryCount int32, _ time.Time, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, eventID)
	if r, ok := f.rows[eventID]; ok {
		r.Status = types.OutboxFailed
		r.RetryCount = retryCount
		r.LastError = lastError
	}
	return nil
}

func (f *fakeOutboxStore) MarkOutboxDead(_ context.Context, eventID string, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, eventID)
	if r, ok := f.rows[eventID]; ok {
		r.Status = types.OutboxDead
		r.LastError = lastError
	}
	return nil
}

func (f *fakeOutboxStore) ClaimOutbox(_ context.Context, limit int, _ time.Duration) ([]*types.OutboxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.OutboxRecord
	for _, r := range f.rows {
		if r.Status == types.OutboxPending || r.Status == types.OutboxFailed {
			cp := *r
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type publishCall struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type fakeProducer struct {
	mu sync.Mutex

	publishErr  error
	failFirstN  int
	calls       []publishCall
	deadLetters []*types.DeadLetter
}

func (f *fakeProducer) Publish(_ context.Context, topic, key string, value []byte, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{topic: topic, key: key, value: value, headers: headers})
	if f.failFirstN > 0 {
		f.failFirstN--
		return types.WrapE(types.KindTransient, "publish", errors.New("broker down"))
	}
	return f.publishErr
}

func (f *fakeProducer) PublishDeadLetter(_ context.Context, _ string, d *types.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, d)
	return nil
}

func testMutation(txID string) *types.MutationRequest {
	return &types.MutationRequest{
		TransactionID: txID,
		AccountID:     1,
		PartitionKey:  "1",
		Currency:      "USDT",
		Kind:          types.MutationDeposit,
		Amount:        decimal.RequireFromString("100.00"),
	}
}

func TestEnqueuePublishesAndMarksSent(t *testing.T) {
	store := newFakeOutboxStore()
	producer := &fakeProducer{}
	w := NewWriter(store, producer, "balance-changes")

	eventID, err := w.Enqueue(context.Background(), testMutation("t1"))
	require.NoError(t, err)
	require.NotEmpty(t, eventID)

	require.Len(t, producer.calls, 1)
	call := producer.calls[0]
	assert.Equal(t, "balance-changes", call.topic)
	assert.Equal(t, "1", call.key)
	assert.Equal(t, eventID, call.headers[types.HeaderEventID])
	assert.Equal(t, "t1", call.headers[types.HeaderTransactionID])

	assert.Equal(t, []string{eventID}, store.sent)
	assert.Equal(t, types.OutboxSent, store.rows[eventID].Status)
}

func TestEnqueueDuplicateTransactionID(t *testing.T) {
	store := newFakeOutboxStore()
	producer := &fakeProducer{}
	w := NewWriter(store, producer, "balance-changes")

	_, err := w.Enqueue(context.Background(), testMutation("t1"))
	require.NoError(t, err)

	_, err = w.Enqueue(context.Background(), testMutation("t1"))
	require.Error(t, err)
	assert.Equal(t, types.KindDuplicate, types.KindOf(err))
	assert.Len(t, producer.calls, 1, "duplicate must not publish")
}

func TestEnqueueSurvivesPublishFailure(t *testing.T) {
	store := newFakeOutboxStore()
	producer := &fakeProducer{publishErr: errors.New("broker unreachable")}
	w := NewWriter(store, producer, "balance-changes")

	eventID, err := w.Enqueue(context.Background(), testMutation("t1"))
	require.NoError(t, err, "publish failure must not surface to the caller")
	require.NotEmpty(t, eventID)

	assert.Equal(t, []string{eventID}, store.failed)
	assert.Equal(t, types.OutboxFailed, store.rows[eventID].Status)
	assert.Empty(t, store.sent)
}

func TestEnqueueDBDownIsTransient(t *testing.T) {
	store := newFakeOutboxStore()
	store.insertErr = types.WrapE(types.KindTransient, "insert", errors.New("connection refused"))
	w := NewWriter(store, &fakeProducer{}, "balance-changes")

	_, err := w.Enqueue(context.Background(), testMutation("t1"))
	require.Error(t, err)
	assert.Equal(t, types.KindTransient, types.KindOf(err))
}
