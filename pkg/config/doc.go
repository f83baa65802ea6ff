/*
Package config loads and validates the runtime configuration of a ballast node.

Configuration is layered: compiled-in defaults, an optional YAML file, then
BALLAST_* environment variables. Environment overrides cover the
deployment-dependent surface (endpoints, credentials, node identity) while
tunables such as batch sizes and lease intervals stay file-driven.

# Layers

	defaults  ──▶  YAML file (--config)  ──▶  BALLAST_* env  ──▶  Validate()

A .env file in the working directory is loaded first when present, so local
development can keep endpoints out of the shell profile.

# Recognized environment variables

	BALLAST_NODE_ID              lease holder identity
	BALLAST_LISTEN_ADDR          HTTP ingress address
	BALLAST_LOG_LEVEL            debug | info | warn | error
	BALLAST_POSTGRES_URL         relational store DSN
	BALLAST_REDIS_ADDR           snapshot cache address
	BALLAST_REDIS_PASSWORD       snapshot cache password
	BALLAST_KAFKA_BROKERS        comma-separated broker list
	BALLAST_KAFKA_TOPIC          mutation topic
	BALLAST_CONSUMER_PARTITIONS  comma-separated partition indexes

# Defaults

The defaults describe a single-node development deployment: batch.max-records
200, batch.max-latency-ms 100, batch.long-poll-ms 1000, lease.ttl-ms 5000,
lease.renew-ms 2000, retry.max-retries 3 with 2.0 backoff, snapshot
worker-count 4 flushing every 100ms, and a Postgres pool of 15 connections.

Intervals are declared as integer milliseconds in YAML and exposed to the rest
of the system as time.Duration through getter methods, so call sites never
multiply by time.Millisecond themselves.
*/
package config
