// Package logging provides structured logging for the provisioning daemon.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the daemon. All components log through it so the
// daemon and the CLI share one verbosity switch.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (request dumps, per-result scan events)
//   - Info: Normal operations (state changes, connections, credential events)
//   - Warn: Non-fatal issues (dropped scan results, degraded AP start)
//   - Error: Fatal issues (startup failures, socket errors)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Credentials received",
//	    logging.SSID(ssid),
//	    zap.String("source", "http"),
//	)
//
// Passwords are never logged; SSIDs go through logging.SSID which strips
// non-printable bytes.
//
// # Configuration
//
// Initialize logging at daemon startup:
//
//	if err := logging.Initialize("info"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// CLI commands that want silent-by-default behavior use
// InitializeFromEnv, which honors PICOPROV_LOG_LEVEL.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap
// logger handles synchronization automatically.
package logging
