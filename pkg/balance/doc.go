/*
Package balance holds the pure compute core: the mutation rules and the
per-partition working set.

Apply is the only place balance arithmetic happens. It takes the current
state and one mutation and returns the next state or a kind-tagged rejection,
never touching storage and never mutating its input. Keeping it pure lets the
consumer compute a whole batch sequentially against in-memory state and lets
tests cover every boundary without a database.

# Compute rules

	deposit    available += amount
	withdraw   available -= amount   reject if available would go negative
	freeze     available -= amount, frozen += amount   reject on negative available
	unfreeze   available += amount, frozen -= amount   reject on negative frozen
	transfer   debit of the source account, same rule as withdraw

Every successful application increments the version by one; the version is
the logical timestamp the cache's last-writer-wins script compares.

# Working set

WorkingSet is an LRU of committed balances owned by a single partition
worker. Because one partition maps to one worker and accounts are pinned to
partitions by partition key, the working set never races: no locks, no
generation counters. The worker resets it when leadership changes hands, so
state computed under an old lease can never leak into a new term.
*/
package balance
