// Package log provides a simple, leveled logging interface used throughout the
// memory engine.
//
// # Log Levels
//
//   - LogLevelDebug: Detailed debugging information for development
//   - LogLevelInfo: General informational messages about normal operation
//   - LogLevelWarn: Warning messages for potentially problematic situations
//   - LogLevelError: Error messages for failures that need attention
//   - LogLevelNone: Disables all logging output
//
// # Example Usage
//
//	logger := log.NewDefaultLogger(log.LogLevelInfo)
//	logger.Info("engine starting")
//	logger.Warn("build snippet skipped: %v", err)
//
// # golog Integration
//
// For a structured-logging backend, wrap a `github.com/kataras/golog` logger:
//
//	glogger := golog.New()
//	logger := log.NewGologLogger(glogger)
//	log.SetDefaultLogger(logger)
package log
