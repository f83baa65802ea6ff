package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// MutationKind discriminates the balance mutations understood by the engine.
type MutationKind string

const (
	MutationDeposit  MutationKind = "deposit"
	MutationWithdraw MutationKind = "withdraw"
	MutationFreeze   MutationKind = "freeze"
	MutationUnfreeze MutationKind = "unfreeze"

	// MutationTransfer debits the source account. The matching credit is an
	// independent deposit submitted against the target account's partition.
	MutationTransfer MutationKind = "transfer"
)

// Valid reports whether k is a recognized mutation kind.
func (k MutationKind) Valid() bool {
	switch k {
	case MutationDeposit, MutationWithdraw, MutationFreeze, MutationUnfreeze, MutationTransfer:
		return true
	}
	return false
}

// Account is created by an administrative path; the write pipeline only
// reads it.
type Account struct {
	ID         int64
	AccountKey string
	ShardID    int32
	CreatedAt  time.Time
}

// BalanceKey identifies one (account, currency) pair.
type BalanceKey struct {
	AccountID int64
	Currency  string
}

// Balance is the committed state of one (account, currency) pair. Version
// increments on every successful mutation and doubles as the logical
// timestamp for last-writer-wins cache updates.
type Balance struct {
	AccountID int64
	Currency  string
	Available decimal.Decimal
	Frozen    decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

// Key returns the (account, currency) identity of the balance.
func (b *Balance) Key() BalanceKey {
	return BalanceKey{AccountID: b.AccountID, Currency: b.Currency}
}

// Clone returns a copy that can be mutated independently.
func (b *Balance) Clone() *Balance {
	c := *b
	return &c
}

// LedgerStatus is the lifecycle state of a ledger entry.
type LedgerStatus string

const (
	LedgerInit       LedgerStatus = "init"
	LedgerProcessing LedgerStatus = "processing"
	LedgerSuccess    LedgerStatus = "success"
	LedgerFailed     LedgerStatus = "failed"
)

// Terminal reports whether the status is final. Records whose transaction id
// already has a terminal ledger entry are dropped as duplicates.
func (s LedgerStatus) Terminal() bool {
	return s == LedgerSuccess || s == LedgerFailed
}

// LedgerEntry records the outcome of exactly one mutation. transaction_id
// uniqueness in the store is the idempotency index of the whole system.
type LedgerEntry struct {
	TransactionID   string
	AccountID       int64
	Currency        string
	Kind            MutationKind
	Amount          decimal.Decimal
	AvailableBefore decimal.Decimal
	AvailableAfter  decimal.Decimal
	FrozenBefore    decimal.Decimal
	FrozenAfter     decimal.Decimal
	Status          LedgerStatus
	ErrorMessage    string
	CreatedAt       time.Time
}

// OutboxStatus is the lifecycle state of an outbox row.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"

	// OutboxDead marks a row whose publication exceeded the retry budget and
	// was escalated to the dead-letter topic.
	OutboxDead OutboxStatus = "dead"
)

// OutboxRecord is one row of the transactional outbox. The row is committed
// before any log publication; the sweeper reconciles rows whose publication
// was lost.
type OutboxRecord struct {
	EventID       string
	TransactionID string
	Topic         string
	PartitionKey  string
	Payload       []byte
	Status        OutboxStatus
	RetryCount    int32
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	SentAt        *time.Time
}

// Lease is the single row backing leader election for one partition.
type Lease struct {
	PartitionID string
	HolderID    string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the lease is past its TTL at the given instant.
func (l *Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// LogRecord is a transport-agnostic view of one durable-log record.
type LogRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Header names carried on every published mutation record.
const (
	HeaderEventID       = "event-id"
	HeaderTransactionID = "transaction-id"
)
