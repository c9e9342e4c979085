/*
Package log provides structured logging for Oneiric using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific and (domain,key)-specific child loggers, configurable
levels, and helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Usage

Initializing the Logger:

	import "github.com/lesleslie/oneiric/pkg/log"

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

	log.Info("runtime started")
	log.Warn("remote manifest sync skipped: circuit open")
	log.Error("lifecycle activate failed")

Context Loggers:

	resolverLog := log.WithComponent("resolver")
	resolverLog.Debug().Str("domain", "adapter").Str("key", "cache").Msg("resolved")

	entryLog := log.WithDomainKey("adapter", "cache")
	entryLog.Info().Str("provider", "redis").Msg("swap succeeded")

	runLog := log.WithRun(runID)
	runLog.Info().Str("node_key", "B").Msg("node succeeded")

# Integration Points

This package is used by pkg/lifecycle (state transitions), pkg/remote
(sync results), pkg/event (dispatch results), pkg/workflow (run/node
results), pkg/telemetry (transition and explain events), pkg/activity,
pkg/runtime, and cmd/oneiric.

# Best Practices

Do: use Info level in production, use structured fields, create
component/domain-key loggers instead of the bare global Logger, log
errors with .Err() so the cause is queryable.

Don't: log secrets or provider settings, log in tight loops without
sampling, concatenate strings instead of using typed fields.
*/
package log
