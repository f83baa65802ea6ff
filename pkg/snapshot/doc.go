/*
Package snapshot propagates committed balances to Redis under last-writer-
wins semantics.

	consumer --Enqueue--> shard queue (account_id mod workers)
	                         |  coalesce per key, keep highest version
	                         v  every flush interval
	                      pipelined EVALSHA lww script
	                         HGET ts; write only if new ts > stored ts

The balance version doubles as the logical timestamp, so the script's
compare-and-set can never let an older committed state overwrite a newer
one, regardless of flush ordering across processes.

Everything here is best effort. The relational store stays authoritative;
queue overflow drops the update, a failed flush is not retried, and both are
repaired by the next commit touching the key or by readers falling back to
the store.

Key layout: {namespace}:{account_id}:{currency} -> hash {val, ts}, where val
is the msgpack-encoded snapshot.
*/
package snapshot
