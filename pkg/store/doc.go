/*
Package store is the Postgres persistence layer: balances, ledger, outbox,
leader leases, and consumer offsets.

Everything the correctness argument rests on lives in this package. The rest
of the system can crash at any instant; the store's transactions are what
make that survivable.

# Tables

	accounts        business key -> internal id, shard id
	balances        (account_id, currency) -> available, frozen, version
	ledger          one row per mutation, UNIQUE (transaction_id)
	outbox          pending publications, UNIQUE (transaction_id)
	leader_lease    one row per partition: holder_id, expires_at
	consumer_offset (group, topic, partition) -> last_offset

The ledger's transaction_id uniqueness is the idempotency index of the whole
system; the outbox's transaction_id uniqueness is what makes mutate calls
idempotent at ingress before a record ever reaches the log.

# The batch transaction

ApplyBatch commits one consumer flush atomically:

	BEGIN
	  SELECT holder_id FROM leader_lease WHERE partition_id = $1 FOR UPDATE
	      -- fence: abort on holder mismatch
	  CREATE TEMP TABLE balance_stage ON COMMIT DROP
	  COPY batch's coalesced per-key deltas into balance_stage
	  UPDATE balances ... FROM balance_stage
	      -- guarded: available + delta >= 0 AND frozen + delta >= 0
	  INSERT first-touch rows for create_ok keys not yet present
	  INSERT ledger rows via unnest(...) ON CONFLICT (transaction_id) DO NOTHING
	  INSERT consumer_offset ... ON CONFLICT DO UPDATE
	      SET last_offset = GREATEST(stored, new)
	COMMIT

Deltas are coalesced per key before staging because a join UPDATE applies at
most one staging row per target row; the ledger still records every mutation
individually with its own before/after amounts. Amounts cross the wire as
text and are cast to numeric(36,18) in SQL, so no binary codec ever rounds
them. Read committed isolation is sufficient: the lease row lock serializes
writers per partition, and the offset upsert is monotonic by construction.

# Outbox claims

ClaimOutbox follows the short-claim pattern: select due rows FOR UPDATE SKIP
LOCKED, push their next_attempt_at forward as an in-flight reservation,
commit, then publish outside any transaction. A sweeper that dies mid-publish
leaves rows that simply become due again when the reservation lapses.

# Lease rows

AcquireLease is a single upsert that succeeds when the row is absent, expired,
or already owned; RenewLease extends only rows still owned. Expiry is judged
by the database clock (now()), never by process clocks, so holders with skewed
clocks cannot disagree about who owns a partition.
*/
package store
