/*
Package events provides an in-memory event broker for Ballast's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting pipeline
events to interested subscribers. It supports asynchronous event delivery,
enabling loose coupling between the lease elector, the partition consumers,
the outbox sweeper, and anything that wants to observe them (the events API
stream, log followers, tests).

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Leader Events:                             │          │
	│  │    - leader.elected                         │          │
	│  │    - leader.lost                            │          │
	│  │    - leader.released                        │          │
	│  │                                              │          │
	│  │  Pipeline Events:                           │          │
	│  │    - batch.committed                        │          │
	│  │    - record.dead                            │          │
	│  │                                              │          │
	│  │  Outbox Events:                             │          │
	│  │    - outbox.dead                            │          │
	│  │    - sweep.recovered                        │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

Delivery is at-most-once per subscriber: a subscriber that cannot keep up has
events dropped rather than backpressuring the pipeline. Events are
observability signals, not a durability mechanism; the outbox table and the
ledger are the records of truth.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			fmt.Printf("%s %s %s\n", ev.Timestamp, ev.Type, ev.Message)
		}
	}()

	broker.Emit(events.EventLeaderElected, "balance-changes-0", "lease acquired")
*/
package events
