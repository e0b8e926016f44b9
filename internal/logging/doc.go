// Package logging provides structured logging for veritas on top of Zap.
//
// The Logger adds:
//   - a Trace level (-2, below Debug) for per-attempt LLM detail
//   - stdout and optional OpenTelemetry output through the otelzap bridge
//   - correlation fields pulled from the context (trace_id, run.id, method.id, phase.id)
//   - redaction of secret-looking keys and values
//   - level-aware sampling that never drops errors
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "phase completed", zap.String("status", "success"))
package logging
