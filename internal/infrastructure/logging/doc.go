// Package logging provides structured logging for Warden Core.
//
// It wraps log/slog with configuration-driven setup:
//   - JSON output for production, text for development
//   - Level filtering (debug, info, warn, error)
//   - Default service/version attributes on every record
//
// Component packages should not import this package directly for their
// dependencies; instead they declare a minimal local Logger interface
// (Debug/Info/Warn/Error) that *logging.Logger satisfies. This keeps
// packages testable without a real logger.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	gwLog := log.With("component", "gateway")
//	gwLog.Info("command dispatched", "device_id", id)
package logging
