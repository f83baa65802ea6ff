/*
Package consumer runs one partition worker per partition: the serialized
heart of the write pipeline.

# State machine

	follower -> candidate -> leader -> draining -> stopped
	     ^          |           |
	     |   lease denied   lease lost (renew or commit fence)
	     +----------+-----------+

# Consume loop (while leader)

	poll long (1s) when the buffer is empty, short (100ms) while
	accumulating; flush at max-records or when a short poll comes back empty

	flush:
	  parse          malformed -> DLQ, still covered by the offset advance
	  collapse       same transaction id twice in one batch -> one row
	  drop terminal  ledger already terminal -> delivered before, no-op
	  warm           load missed keys into the working set
	  compute        pure, against a local view; rejections -> failed rows
	  commit         fenced ApplyBatch, bounded transient retries
	  post-commit    working set + snapshot sink get authoritative rows

The worker never advances an offset it did not commit: transient failures
exit the loop and resume from the committed offset after re-acquiring, and
lease loss abandons the in-flight batch entirely. Replayed records are
harmless because any record that did commit has a terminal ledger row.

All dependencies are narrow interfaces (BalanceStore, OffsetStore,
LeaseGuard, LogPoller, SnapshotSink, DeadLetterer), so the full state
machine runs under test against in-memory fakes.
*/
package consumer
