package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/orchestrator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/makr-code/VCC-Veritas-sub002/internal/mcp"

// Metrics records tool calls and the outcome of the runs they start.
type Metrics struct {
	meter  metric.Meter
	logger *logging.Logger

	calls    metric.Int64Counter
	duration metric.Float64Histogram
	failures metric.Int64Counter
	inFlight metric.Int64UpDownCounter
	runs     metric.Int64Counter
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics(logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{meter: otel.Meter(instrumentationName), logger: logger}
	if err := m.register(); err != nil {
		logger.Warn(context.Background(), "mcp metrics partially registered", zap.Error(err))
	}
	return m
}

func (m *Metrics) register() error {
	var errs []error
	var err error

	m.calls, err = m.meter.Int64Counter("veritas.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls by tool."),
		metric.WithUnit("{invocation}"))
	errs = append(errs, err)

	// A veritas_ask call lasts as long as the run it starts.
	m.duration, err = m.meter.Float64Histogram("veritas.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call duration by tool."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 1, 5, 15, 30, 60, 120, 300, 600))
	errs = append(errs, err)

	m.failures, err = m.meter.Int64Counter("veritas.mcp.tool.errors_total",
		metric.WithDescription("MCP tool calls that returned an error, by tool and reason."),
		metric.WithUnit("{error}"))
	errs = append(errs, err)

	m.inFlight, err = m.meter.Int64UpDownCounter("veritas.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in progress."),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	m.runs, err = m.meter.Int64Counter("veritas.mcp.runs_total",
		metric.WithDescription("Runs finished through MCP by method and run status."),
		metric.WithUnit("{run}"))
	errs = append(errs, err)

	return errors.Join(errs...)
}

// Begin marks a tool call in flight. The returned func ends it and records
// the call with its error, if any.
func (m *Metrics) Begin(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, attrs)
	}
	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, attrs)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", categorizeError(err)),
			))
		}
	}
}

// RecordRun counts a run that reached a final status.
func (m *Metrics) RecordRun(ctx context.Context, methodID string, status orchestrator.RunStatus) {
	if m.runs == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method_id", methodID),
		attribute.String("status", string(status)),
	))
}

// categorizeError maps an error to a low-cardinality reason label.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		return "validation_error"
	case errors.Is(err, method.ErrConfigNotFound), errors.Is(err, method.ErrPromptNotFound):
		return "not_found"
	case errors.Is(err, method.ErrConfigInvalid):
		return "config_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal_error"
	}
}
