// Package pkg provides shared utilities for the softemmc driver.
//
// This package contains common functionality used by the driver core, the
// hardware backends and the command-line tool, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for the driver's error taxonomy
//   - A compact [ErrorCode] used by the diagnostic slot
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with driver-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentMount, "card mounted", "width", 8)
//
// # Errors
//
// Failures are reported as sentinel values, usually wrapped with context:
//
//	if errors.Is(err, pkg.ErrCardBusy) {
//	    // Poll the card status again
//	}
package pkg
