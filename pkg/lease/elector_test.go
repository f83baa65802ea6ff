package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenlabs/ballast/pkg/events"
)

type fakeLeaseStore struct {
	mu sync.Mutex

	holder string

	acquireErr error
	renewOK    bool
	renewErr   error
	renewCalls int
	released   bool
}

func (f *fakeLeaseStore) AcquireLease(_ context.Context, _, holderID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.holder == "" || f.holder == holderID {
		f.holder = holderID
		return true, nil
	}
	return false, nil
}

func (f *fakeLeaseStore) RenewLease(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewCalls++
	return f.renewOK, f.renewErr
}

func (f *fakeLeaseStore) ReleaseLease(_ context.Context, _, holderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder == holderID {
		f.holder = ""
		f.released = true
	}
	return nil
}

func newTestElector(store Store, cfg Config) (*Elector, *events.Broker) {
	broker := events.NewBroker()
	broker.Start()
	return NewElector(store, "balance-changes/0", "node-a", cfg, broker), broker
}

func TestTryAcquire(t *testing.T) {
	tests := []struct {
		name    string
		store   *fakeLeaseStore
		want    bool
		wantErr bool
	}{
		{
			name:  "free lease is granted",
			store: &fakeLeaseStore{},
			want:  true,
		},
		{
			name:  "held lease is denied",
			store: &fakeLeaseStore{holder: "node-b"},
			want:  false,
		},
		{
			name:  "own lease is re-granted",
			store: &fakeLeaseStore{holder: "node-a"},
			want:  true,
		},
		{
			name:    "store error propagates",
			store:   &fakeLeaseStore{acquireErr: errors.New("db down")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elector, broker := newTestElector(tt.store, Config{TTL: 5 * time.Second, Renew: 2 * time.Second})
			defer broker.Stop()

			got, err := elector.TryAcquire(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeepAliveLossOnTakeover(t *testing.T) {
	store := &fakeLeaseStore{holder: "node-a", renewOK: false}
	elector, broker := newTestElector(store, Config{TTL: 100 * time.Millisecond, Renew: 5 * time.Millisecond})
	defer broker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lost := elector.KeepAlive(ctx)
	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("expected loss after a clean zero-row renewal")
	}
}

func TestKeepAliveRetriesTransientErrors(t *testing.T) {
	store := &fakeLeaseStore{holder: "node-a", renewOK: true, renewErr: errors.New("connection reset")}
	elector, broker := newTestElector(store, Config{TTL: 200 * time.Millisecond, Renew: 10 * time.Millisecond})
	defer broker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lost := elector.KeepAlive(ctx)

	// Renewal errors inside the TTL window must not surface as loss.
	select {
	case <-lost:
		t.Fatal("lost leadership before the TTL window elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	// Past the TTL window the elector must stop assuming ownership.
	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("expected loss once renewals failed past TTL")
	}

	store.mu.Lock()
	calls := store.renewCalls
	store.mu.Unlock()
	assert.Greater(t, calls, 1, "expected renewals to be retried")
}

func TestKeepAliveStopsOnContextCancel(t *testing.T) {
	store := &fakeLeaseStore{holder: "node-a", renewOK: true}
	elector, broker := newTestElector(store, Config{TTL: time.Second, Renew: 5 * time.Millisecond})
	defer broker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	lost := elector.KeepAlive(ctx)
	cancel()

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("keepalive did not stop on context cancel")
	}
}

func TestRelease(t *testing.T) {
	store := &fakeLeaseStore{holder: "node-a"}
	elector, broker := newTestElector(store, Config{TTL: time.Second, Renew: 100 * time.Millisecond})
	defer broker.Stop()

	require.NoError(t, elector.Release(context.Background()))
	assert.True(t, store.released)
	assert.Empty(t, store.holder)
}
