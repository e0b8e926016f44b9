package http

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/makr-code/VCC-Veritas-sub002/internal/http"

// Content types of the two streaming routes. Requests answered with either are
// labeled streaming=true so long-lived runs do not skew request latency.
const (
	contentTypeNDJSON = "application/x-ndjson"
	contentTypeSSE    = "text/event-stream"
)

// HTTPMetrics records request counts, latency, response size and in-flight
// requests for the API.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *logging.Logger

	requests     metric.Int64Counter
	duration     metric.Float64Histogram
	responseSize metric.Int64Histogram
	inFlight     metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the instruments on the global meter provider.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &HTTPMetrics{meter: otel.Meter(httpInstrumentationName), logger: logger}
	if err := m.register(); err != nil {
		logger.Warn(context.Background(), "http metrics partially registered", zap.Error(err))
	}
	return m
}

// register creates every instrument it can. A failed instrument stays nil and
// is skipped when recording.
func (m *HTTPMetrics) register() error {
	var errs []error
	var err error

	m.requests, err = m.meter.Int64Counter("veritas.http.requests_total",
		metric.WithDescription("API requests by method, route, status and whether the response was a run stream."),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	m.duration, err = m.meter.Float64Histogram("veritas.http.request_duration_seconds",
		metric.WithDescription("API request duration. Blocking queries last as long as the whole run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600))
	errs = append(errs, err)

	m.responseSize, err = m.meter.Int64Histogram("veritas.http.response_size_bytes",
		metric.WithDescription("Response body size. Streaming responses report the bytes written before the run ended."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 1000, 10000, 100000, 1000000))
	errs = append(errs, err)

	m.inFlight, err = m.meter.Int64UpDownCounter("veritas.http.active_requests",
		metric.WithDescription("Requests currently being served, including open run streams."),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	return errors.Join(errs...)
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			res := c.Response()
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", res.Status),
				attribute.Bool("streaming", isStreaming(res.Header().Get(echo.HeaderContentType))),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, res.Size, attrs)
			}
			return err
		}
	}
}

// normalizePath returns the route pattern used as the endpoint label. Echo
// reports registered patterns (/api/v1/methods/:id), so ids never reach the
// label; unmatched requests share "/".
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

func isStreaming(contentType string) bool {
	return strings.HasPrefix(contentType, contentTypeNDJSON) || strings.HasPrefix(contentType, contentTypeSSE)
}
