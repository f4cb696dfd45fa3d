package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	FieldJob         = "job"
	FieldExecutionID = "execution_id"
	FieldComponent   = "component"
	FieldWorkerID    = "worker_id"

	FieldStatus  = "status"
	FieldOutcome = "outcome"
	FieldState   = "state"

	FieldFireAt     = "fire_at"
	FieldFiredAt    = "fired_at"
	FieldNextFireAt = "next_fire_at"
	FieldDurationMS = "duration_ms"
	FieldDeferrals  = "deferrals"

	FieldError = "error"
	FieldCount = "count"
	FieldOrder = "order"
	FieldPath  = "path"

	FieldSymbol = "symbol" // glyph from package sym
)

// ComponentLogger returns a named child of the global logger.
//
// Example:
//
//	pool := pool.New(cfg, tracker, logger.ComponentLogger("pool"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
// Example:
//
//	jobLog := logger.ChildLogger(baseLogger, logger.FieldJob, name)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
