// Package health exposes dependency checkers for the readiness endpoint and
// the engine's critical-resource watchdog. Postgres, Redis, and Kafka are
// all reached through their native pings.
package health
