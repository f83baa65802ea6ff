/*
Package service is the core's inbound surface: mutate, query, ledger
history, transaction status, and account administration.

Mutate is asynchronous by design. Acceptance (a committed outbox row) and
application (a partition worker's batch commit) are separated by the durable
log, so a successful Mutate returns an event id, not a new balance; clients
poll TransactionStatus or query the balance.

Query serves from the snapshot cache first and falls back to the
authoritative store, so a reader tolerates cache staleness bounded by the
snapshot flush interval but never fabricated state.
*/
package service
