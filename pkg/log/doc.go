/*
Package log provides structured logging for Ballast using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Ballast's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("consumer")                │          │
	│  │  - further fields chain via zerolog With()  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "consumer",                 │          │
	│  │    "partition": "balance-changes-0",        │          │
	│  │    "time": "2026-03-14T10:30:00Z",         │          │
	│  │    "message": "batch committed"             │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF batch committed component=consumer │      │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Ballast packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - Extra context (partition, holder, transaction ids) chains onto the
    component logger via zerolog's With()

# Usage

Initializing the Logger:

	import "github.com/fenlabs/ballast/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("engine started")
	log.Debug("loading working set")
	log.Warn("snapshot queue full, dropping update")
	log.Error("failed to publish to log transport")
	log.Fatal("cannot start without database") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("transaction_id", "tx-0001").
		Int("batch_size", 200).
		Msg("batch committed")

	log.Logger.Error().
		Err(err).
		Str("partition", "balance-changes-0").
		Msg("lease renewal failed")

Component Loggers:

	// Create component-specific logger
	consumerLog := log.WithComponent("consumer")
	consumerLog.Info().Msg("starting partition worker")
	consumerLog.Debug().Int64("offset", 1047).Msg("resuming from committed offset")

	// Multiple context fields
	workerLog := log.WithComponent("consumer").
		With().Str("partition", "balance-changes-0").
		Str("holder_id", "node-a-1b2c3d").Logger()
	workerLog.Info().Msg("lease acquired")
	workerLog.Error().Err(err).Msg("batch commit failed")

# Log Volume

The hot path logs at debug level only: per-batch commits, working-set loads,
and snapshot flushes. Info level is reserved for lifecycle transitions (lease
acquired, lease lost, sweeper escalations) so production volume stays bounded
by cluster events rather than record throughput.
*/
package log
