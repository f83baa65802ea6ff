// Package engine assembles a node from its components and owns their
// lifecycle.
//
//	                 ┌──────────────┐
//	   HTTP ───────► │  api.Server  │──► service ──► outbox.Writer ──► log
//	                 └──────────────┘                    │
//	                                                postgres (outbox)
//	                                                     ▲
//	                 ┌──────────────┐                    │
//	   log ────────► │   workers    │──► ApplyBatch ── fence
//	  (1/partition)  └──────┬───────┘
//	                        └──► snapshot.Updater ──► redis
//
// Start order: store, topics, producer, cache fan-out, partition workers,
// outbox sweeper, HTTP server. Shutdown runs the same list in reverse so
// nothing accepts work after its downstream is gone.
//
// A watchdog pings Postgres and Kafka; sustained loss of either surfaces on
// Fatal() and the process is expected to exit rather than limp.
package engine
