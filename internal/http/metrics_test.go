package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logging.NewNop(),
	}
	require.NoError(t, m.register())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/methods/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"method_id": c.Param("id")})
	})
	e.POST("/api/v1/query", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/query/stream", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, contentTypeNDJSON)
		return c.String(http.StatusOK, "{}\n")
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/methods/basic", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/methods/quick", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader("{}")),
		httptest.NewRequest(http.MethodPost, "/api/v1/query/stream", strings.NewReader("{}")),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch md.Name {
			case "veritas.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				byEndpoint := map[string]int64{}
				streaming := map[string]bool{}
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					s, _ := dp.Attributes.Value(attribute.Key("streaming"))
					byEndpoint[v.AsString()] += dp.Value
					streaming[v.AsString()] = s.AsBool()
				}
				assert.Equal(t, map[string]int64{"/api/v1/methods/:id": 2, "/api/v1/query": 1, "/api/v1/query/stream": 1}, byEndpoint)
				assert.Equal(t, map[string]bool{"/api/v1/methods/:id": false, "/api/v1/query": false, "/api/v1/query/stream": true}, streaming)
			case "veritas.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var total uint64
				for _, dp := range hist.DataPoints {
					total += dp.Count
				}
				assert.Equal(t, uint64(4), total)
			}
		}
	}

	assert.True(t, found["veritas.http.requests_total"])
	assert.True(t, found["veritas.http.request_duration_seconds"])
	assert.True(t, found["veritas.http.response_size_bytes"])
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/api/v1/methods/:id", "/api/v1/methods/:id"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input))
	}
}

func TestIsStreaming(t *testing.T) {
	assert.True(t, isStreaming("application/x-ndjson"))
	assert.True(t, isStreaming("text/event-stream; charset=utf-8"))
	assert.False(t, isStreaming("application/json; charset=UTF-8"))
	assert.False(t, isStreaming(""))
}
