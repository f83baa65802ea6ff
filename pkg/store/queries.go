package store

import (
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/fenlabs/ballast/pkg/types"
)

// Dynamic queries are built with squirrel; fixed-shape statements stay as SQL
// constants next to their methods.

func balanceLoadQuery(keys []types.BalanceKey) (string, []any, error) {
	match := make(sq.Or, 0, len(keys))
	for _, key := range keys {
		match = append(match, sq.Eq{"account_id": key.AccountID, "currency": key.Currency})
	}
	return psql.
		Select("account_id", "currency", "available::text", "frozen::text", "version", "updated_at").
		From("balances").
		Where(match).
		ToSql()
}

func terminalTransactionsQuery(transactionIDs []string) (string, []any, error) {
	return psql.
		Select("transaction_id", "status").
		From("ledger").
		Where(sq.Eq{"transaction_id": transactionIDs}).
		Where(sq.Eq{"status": []string{string(types.LedgerSuccess), string(types.LedgerFailed)}}).
		ToSql()
}

func ledgerListQuery(key types.BalanceKey, limit int) (string, []any, error) {
	return psql.
		Select("transaction_id", "account_id", "currency", "kind", "amount::text",
			"available_before::text", "available_after::text", "frozen_before::text", "frozen_after::text",
			"status", "error_message", "created_at").
		From("ledger").
		Where(sq.Eq{"account_id": key.AccountID, "currency": key.Currency}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
}

func claimOutboxQuery(limit int, now time.Time) (string, []any, error) {
	return psql.
		Select("event_id", "transaction_id", "topic", "partition_key", "payload",
			"status", "retry_count", "next_attempt_at", "last_error", "created_at", "sent_at").
		From("outbox").
		Where(sq.Eq{"status": []string{string(types.OutboxPending), string(types.OutboxFailed)}}).
		Where(sq.LtOrEq{"next_attempt_at": now}).
		OrderBy("next_attempt_at ASC", "created_at ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
}
