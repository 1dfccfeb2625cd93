// Package logging assembles structured slog loggers and formatting helpers used
// across the omniui client.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so transport and lifecycle code
// can tag log lines with request and process identifiers. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
