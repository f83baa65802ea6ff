// Package api is the HTTP surface of the node: mutation submission, balance
// and transaction reads, account administration, and the operational
// endpoints (healthz, readyz, metrics).
//
// The handlers translate between JSON bodies and domain types and map error
// kinds onto HTTP statuses:
//
//	validation_error                     -> 400
//	duplicate                            -> 409
//	insufficient_funds, unknown_balance  -> 422
//	transient (and anything untagged)    -> 503
//
// Submissions return 202 Accepted: the mutation is durably queued in the
// outbox but applied asynchronously by the partition leader.
package api
