/*
Package log provides structured logging for the autoscaler using zerolog.

It wraps zerolog to provide JSON or console-formatted logging with a single
global Logger, component-specific child loggers, and helper functions for
common logging patterns. All logs include timestamps and support filtering
by severity level.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe, accessible from every package

Context Loggers:
  - WithComponent: tag logs with the emitting component ("reconciler",
    "scheduler", "updater", "launcher")
  - WithNodeID: tag logs with the node a log line concerns
  - WithNodeType: tag logs with the node type being launched or terminated

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Info("reconciler starting")

	nodeLog := log.WithNodeID("i-0abc123")
	nodeLog.Warn().Msg("heartbeat missed")

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
