// Package logging provides structured logging for Gatehouse Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service")
//	logger.Error("failed to open store", "error", err)
//
// # Security
//
// Never log secrets: raw refresh tokens, password hashes, JWT signing keys
// and security stamps must not appear in log output. Log record IDs and
// token family IDs instead.
package logging
