package logger

import "go.uber.org/zap"

// Standard field names. Use these instead of raw strings so log queries stay stable.
const (
	FieldRunID     = "run_id"
	FieldComponent = "component"
	FieldPhase     = "phase"
	FieldQuery     = "query"
	FieldTarget    = "target"

	FieldURL       = "url"
	FieldBusiness  = "business"
	FieldAttempt   = "attempt"
	FieldRetryable = "retryable"

	FieldCount      = "count"
	FieldBatchSize  = "batch_size"
	FieldTotalCount = "total_count"

	FieldDurationMS = "duration_ms"
	FieldError      = "error"
	FieldStatus     = "status"

	FieldFile    = "file"
	FieldBackend = "backend"
	FieldAddress = "address"
	FieldMethod  = "method"
	FieldPath    = "path"
)

// ComponentLogger returns a named logger for a component. Prefer injecting the result
// over reaching for the global Logger inside hot paths.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// OrDefault returns l, or the named component logger when l is nil.
func OrDefault(l *zap.SugaredLogger, name string) *zap.SugaredLogger {
	if l != nil {
		return l
	}
	return ComponentLogger(name)
}
