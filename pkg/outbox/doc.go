/*
Package outbox implements the transactional outbox: the bridge between an
accepted mutation and the durable log.

	Enqueue
	  |  INSERT outbox (pending)   <- commit first; this row IS the request
	  |  ProduceSync balance-changes
	  |     ok   -> UPDATE status = sent
	  |     fail -> UPDATE status = failed, next_attempt_at
	  v
	Sweeper (ticker)
	  claim due rows (FOR UPDATE SKIP LOCKED + reservation)
	  republish with original event id, bounded retries
	  budget exhausted -> dead-letter envelope -> balance-changes-dlq, status = dead

A database commit followed by a log publish cannot be atomic; the outbox
resolves the dual write by making the database authoritative and treating
the log as eventually caught up. Duplicate deliveries this creates are
harmless: the consumer drops any record whose transaction id already has a
terminal ledger row.

The caller's contract is deliberately narrow. Enqueue returns an event id
once the row committed; whether the inline publish succeeded is invisible,
and the sweeper owns every failure after that point.
*/
package outbox
