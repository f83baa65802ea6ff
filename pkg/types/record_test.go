package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMutation() *MutationRequest {
	return &MutationRequest{
		TransactionID: "tx-0001",
		AccountID:     42,
		PartitionKey:  "42",
		Currency:      "USDT",
		Kind:          MutationDeposit,
		Amount:        decimal.RequireFromString("100"),
	}
}

// TestMutationValidate tests the request validation rules
func TestMutationValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *MutationRequest)
		wantErr string
	}{
		{
			name:   "valid request",
			mutate: func(m *MutationRequest) {},
		},
		{
			name:    "missing transaction id",
			mutate:  func(m *MutationRequest) { m.TransactionID = "" },
			wantErr: "transaction_id is required",
		},
		{
			name:    "zero account id",
			mutate:  func(m *MutationRequest) { m.AccountID = 0 },
			wantErr: "account_id must be positive",
		},
		{
			name:    "negative account id",
			mutate:  func(m *MutationRequest) { m.AccountID = -5 },
			wantErr: "account_id must be positive",
		},
		{
			name:    "lowercase currency",
			mutate:  func(m *MutationRequest) { m.Currency = "usdt" },
			wantErr: "currency",
		},
		{
			name:    "currency too short",
			mutate:  func(m *MutationRequest) { m.Currency = "X" },
			wantErr: "currency",
		},
		{
			name:    "unknown kind",
			mutate:  func(m *MutationRequest) { m.Kind = "mint" },
			wantErr: "unknown mutation kind",
		},
		{
			name:    "zero amount",
			mutate:  func(m *MutationRequest) { m.Amount = decimal.Zero },
			wantErr: "amount must be positive",
		},
		{
			name:    "negative amount",
			mutate:  func(m *MutationRequest) { m.Amount = decimal.RequireFromString("-1") },
			wantErr: "amount must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMutation()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestMutationRoundTrip tests that encoding preserves decimal precision
func TestMutationRoundTrip(t *testing.T) {
	m := validMutation()
	m.Amount = decimal.RequireFromString("0.000000000000000001")
	m.Metadata = map[string]string{"origin": "api"}

	payload, err := m.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"amount":"0.000000000000000001"`)
	assert.Contains(t, string(payload), `"schema_version":1`)

	decoded, err := DecodeMutation(payload)
	require.NoError(t, err)
	assert.Equal(t, m.TransactionID, decoded.TransactionID)
	assert.True(t, m.Amount.Equal(decoded.Amount))
	assert.Equal(t, "api", decoded.Metadata["origin"])
}

// TestDecodeMutationRejects tests classification of undecodable payloads
func TestDecodeMutationRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "{{{"},
		{"wrong amount type", `{"schema_version":1,"transaction_id":"t","account_id":1,"currency":"USDT","kind":"deposit","amount":{"x":1}}`},
		{"future schema", `{"schema_version":99,"transaction_id":"t","account_id":1,"currency":"USDT","kind":"deposit","amount":"1"}`},
		{"fails validation", `{"schema_version":1,"transaction_id":"","account_id":1,"currency":"USDT","kind":"deposit","amount":"1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMutation([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation), "want validation kind, got %v", err)
		})
	}
}

// TestDeadLetterRoundTrip tests the dead-letter envelope codec
func TestDeadLetterRoundTrip(t *testing.T) {
	d := &DeadLetter{
		OriginalTopic:     "balance-changes",
		OriginalPartition: 2,
		OriginalOffset:    1047,
		OriginalKey:       []byte("42"),
		OriginalValue:     []byte("{broken"),
		FailedAt:          time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		RetryCount:        3,
		ErrorKind:         string(KindValidation),
		ErrorMessage:      "malformed mutation payload",
	}

	payload, err := d.Encode()
	require.NoError(t, err)

	decoded, err := DecodeDeadLetter(payload)
	require.NoError(t, err)
	assert.Equal(t, d.OriginalTopic, decoded.OriginalTopic)
	assert.Equal(t, d.OriginalOffset, decoded.OriginalOffset)
	assert.Equal(t, d.OriginalValue, decoded.OriginalValue)
	assert.True(t, d.FailedAt.Equal(decoded.FailedAt))
	assert.Equal(t, d.ErrorKind, decoded.ErrorKind)
}

// TestSnapshotConversion tests Balance <-> BalanceSnapshot conversions
func TestSnapshotConversion(t *testing.T) {
	b := &Balance{
		AccountID: 42,
		Currency:  "USDT",
		Available: decimal.RequireFromString("60"),
		Frozen:    decimal.RequireFromString("40"),
		Version:   9,
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	snap := SnapshotOf(b)
	assert.Equal(t, "60", snap.Available)
	assert.Equal(t, "40", snap.Frozen)
	assert.Equal(t, int64(9), snap.Version)

	back, err := snap.Balance()
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(back.Available))
	assert.True(t, b.Frozen.Equal(back.Frozen))
	assert.Equal(t, b.Version, back.Version)
	assert.True(t, b.UpdatedAt.Equal(back.UpdatedAt))

	snap.Available = "not-a-number"
	_, err = snap.Balance()
	assert.Error(t, err)
}
