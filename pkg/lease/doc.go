/*
Package lease elects one writer per partition through a single database row.

	+-----------+   TryAcquire    +----------------------+
	| candidate | --------------> | leader_lease upsert  |
	+-----------+     granted     |  (expired or ours)   |
	      |                       +----------------------+
	      v
	+-----------+   KeepAlive     renew every Renew, TTL window
	|  leader   | -------------->  loss -> channel closes
	+-----------+

The elector is deliberately not sufficient for correctness on its own: two
nodes can briefly both believe they lead across a network partition. The
batch commit closes that hole by fencing: it row-locks the lease inside the
same transaction that writes balances and offsets, so the loser's commit
fails no matter what its renewal loop believed.

TTL must exceed the worst tolerable clock skew between nodes and the
database; all expiry comparisons happen in SQL against now() so the process
clocks never participate.
*/
package lease
