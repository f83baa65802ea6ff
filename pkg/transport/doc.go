/*
Package transport is the Kafka plumbing: a synchronous producer, direct
per-partition consumers, and startup topic administration.

	outbox writer / sweeper --Publish--> balance-changes (keyed by account)
	consumer (malformed)   --PublishDeadLetter--> balance-changes-dlq
	partition worker      <--Poll-- PartitionConsumer (explicit offset)

Offsets are never committed to the broker. The relational store owns them so
an offset advance commits in the same transaction as the balances it covers,
and a direct kgo.ConsumePartitions consumer at stored-offset+1 replaces the
consumer group protocol. Partition ownership comes from the lease table, so
a broker-side rebalance could only fight it.
*/
package transport
