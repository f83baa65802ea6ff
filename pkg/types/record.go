package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is stamped on every published mutation payload so consumers
// can reject records from a future, incompatible producer.
const SchemaVersion = 1

// MutationRequest is one monetary mutation submitted by a client. The
// transaction id is client-supplied and globally unique; it is the handle for
// the exactly-once guarantee.
type MutationRequest struct {
	SchemaVersion int               `json:"schema_version"`
	TransactionID string            `json:"transaction_id"`
	AccountID     int64             `json:"account_id"`
	PartitionKey  string            `json:"partition_key"`
	Currency      string            `json:"currency"`
	Kind          MutationKind      `json:"kind"`
	Amount        decimal.Decimal   `json:"amount"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

const (
	maxTransactionIDLen = 128
	maxPartitionKeyLen  = 128
	maxDescriptionLen   = 256
	maxCurrencyLen      = 16
	minCurrencyLen      = 2
)

// Validate checks the request against the domain rules and returns a
// ValidationError describing the first violation.
func (m *MutationRequest) Validate() error {
	switch {
	case m.TransactionID == "":
		return E(KindValidation, "transaction_id is required")
	case len(m.TransactionID) > maxTransactionIDLen:
		return Ef(KindValidation, "transaction_id exceeds %d characters", maxTransactionIDLen)
	case m.AccountID <= 0:
		return E(KindValidation, "account_id must be positive")
	case len(m.PartitionKey) > maxPartitionKeyLen:
		return Ef(KindValidation, "partition_key exceeds %d characters", maxPartitionKeyLen)
	case !validCurrency(m.Currency):
		return Ef(KindValidation, "currency %q must be %d-%d uppercase alphanumeric characters", m.Currency, minCurrencyLen, maxCurrencyLen)
	case !m.Kind.Valid():
		return Ef(KindValidation, "unknown mutation kind %q", m.Kind)
	case !m.Amount.IsPositive():
		return Ef(KindValidation, "amount must be positive, got %s", m.Amount)
	case len(m.Description) > maxDescriptionLen:
		return Ef(KindValidation, "description exceeds %d characters", maxDescriptionLen)
	}
	return nil
}

func validCurrency(c string) bool {
	if len(c) < minCurrencyLen || len(c) > maxCurrencyLen {
		return false
	}
	for i := 0; i < len(c); i++ {
		ch := c[i]
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return false
		}
	}
	return true
}

// Key returns the (account, currency) pair the mutation touches.
func (m *MutationRequest) Key() BalanceKey {
	return BalanceKey{AccountID: m.AccountID, Currency: m.Currency}
}

// Encode serializes the request to its self-describing JSON wire form.
// Amounts are quoted strings so precision survives the round trip.
func (m *MutationRequest) Encode() ([]byte, error) {
	m.SchemaVersion = SchemaVersion
	return json.Marshal(m)
}

// DecodeMutation parses a published payload. A parse or validation failure is
// a ValidationError; the consumer routes such records to the dead-letter
// topic without blocking the partition.
func DecodeMutation(payload []byte) (*MutationRequest, error) {
	var m MutationRequest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, WrapE(KindValidation, "malformed mutation payload", err)
	}
	if m.SchemaVersion > SchemaVersion {
		return nil, Ef(KindValidation, "unsupported schema version %d", m.SchemaVersion)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeadLetter wraps a record that could not be processed, preserving enough of
// the original to replay it by hand.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       []byte    `json:"original_key,omitempty"`
	OriginalValue     []byte    `json:"original_value"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int32     `json:"retry_count"`
	ErrorKind         string    `json:"error_kind"`
	ErrorMessage      string    `json:"error_message"`
}

// Encode serializes the envelope for the dead-letter topic.
func (d *DeadLetter) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDeadLetter parses a dead-letter envelope.
func DecodeDeadLetter(payload []byte) (*DeadLetter, error) {
	var d DeadLetter
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, WrapE(KindValidation, "malformed dead letter payload", err)
	}
	return &d, nil
}

// BalanceSnapshot is the cache representation of a committed balance.
// Amounts are decimal strings because msgpack cannot see inside
// decimal.Decimal, and string amounts keep the value readable from other
// languages.
type BalanceSnapshot struct {
	AccountID int64     `msgpack:"account_id"`
	Currency  string    `msgpack:"currency"`
	Available string    `msgpack:"available"`
	Frozen    string    `msgpack:"frozen"`
	Version   int64     `msgpack:"version"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// SnapshotOf converts a committed balance into its cache form.
func SnapshotOf(b *Balance) *BalanceSnapshot {
	return &BalanceSnapshot{
		AccountID: b.AccountID,
		Currency:  b.Currency,
		Available: b.Available.String(),
		Frozen:    b.Frozen.String(),
		Version:   b.Version,
		UpdatedAt: b.UpdatedAt,
	}
}

// Balance converts the snapshot back into the domain type.
func (s *BalanceSnapshot) Balance() (*Balance, error) {
	available, err := decimal.NewFromString(s.Available)
	if err != nil {
		return nil, WrapE(KindValidation, "snapshot available amount", err)
	}
	frozen, err := decimal.NewFromString(s.Frozen)
	if err != nil {
		return nil, WrapE(KindValidation, "snapshot frozen amount", err)
	}
	return &Balance{
		AccountID: s.AccountID,
		Currency:  s.Currency,
		Available: available,
		Frozen:    frozen,
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
	}, nil
}
