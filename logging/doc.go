// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger.
//
// The Logger interface defines the logging methods (Debug, Info, Warn, Error)
// that the engine, agents and middleware use for observability. This package
// includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - LogModelCall / LogCapabilityCall helpers with stable field names
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng, err := engine.New(supervisor, func(o *engine.Options) { o.Logger = logger })
package logging
