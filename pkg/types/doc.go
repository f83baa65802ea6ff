/*
Package types defines the domain model shared by every Ballast component.

It holds the wire-facing records (mutation requests, log records, dead-letter
envelopes, cache snapshots), the persisted entities (balances, ledger entries,
outbox rows, leases), and the kind-tagged Error used to classify operation
outcomes.

All monetary amounts are shopspring decimals, stored as numeric(36,18) in the
relational store and carried as quoted strings on the wire so values
round-trip exactly. Mutation payloads are versioned, self-describing JSON
objects with a reserved metadata extension field.

Error kinds follow the propagation rules of the write pipeline: Duplicate,
InsufficientFunds, UnknownBalance and ValidationError are terminal per record;
Transient is retryable with backoff; LeaseLost aborts the in-flight batch; DLQ
marks a record routed to the dead-letter topic.
*/
package types
