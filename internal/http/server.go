// Package http provides the HTTP API for veritas.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/orchestrator"
	"github.com/makr-code/VCC-Veritas-sub002/internal/stream"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pipeline runs queries against a named method. *orchestrator.Engine implements it.
type Pipeline interface {
	Run(ctx context.Context, methodID string, req orchestrator.Request) (*orchestrator.Result, error)
	Stream(ctx context.Context, methodID string, req orchestrator.Request) (*stream.Stream, error)
	Orchestrator(methodID string) (*orchestrator.Orchestrator, error)
	DefaultMethod() string
}

// Server provides HTTP endpoints for veritas.
type Server struct {
	echo     *echo.Echo
	pipeline Pipeline
	logger   *logging.Logger
	config   *Config
	metrics  *HTTPMetrics

	events *stream.NATSSink
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string

	// RunTimeout bounds each run; zero means no limit beyond the client's.
	RunTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithEvents enables background runs and the SSE event route, fed by run
// events published on nc.
func WithEvents(nc *nats.Conn, subjectPrefix string) Option {
	return func(s *Server) {
		if nc != nil {
			s.events = stream.NewNATSSink(nc, subjectPrefix)
		}
	}
}

// NewServer creates a new HTTP server.
func NewServer(p Pipeline, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		pipeline: p,
		logger:   logger,
		config:   cfg,
		metrics:  NewHTTPMetrics(logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), reqID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
	v1.POST("/query/stream", s.handleQueryStream)
	v1.GET("/methods/:id", s.handleMethod)

	if s.events != nil {
		v1.POST("/runs", s.handleStartRun)
		v1.GET("/runs/:run_id/events", s.handleRunEvents)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:        "ok",
		Version:       s.config.Version,
		DefaultMethod: s.pipeline.DefaultMethod(),
		Events:        s.events != nil,
	}
	if _, err := s.pipeline.Orchestrator(""); err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) bindQuery(c echo.Context) (*QueryRequest, error) {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid query request", zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	return &req, nil
}

func (s *Server) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.config.RunTimeout > 0 {
		return context.WithTimeout(parent, s.config.RunTimeout)
	}
	return context.WithCancel(parent)
}

// handleQuery runs the pipeline and returns the aggregate result.
func (s *Server) handleQuery(c echo.Context) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	ctx, cancel := s.runContext(c.Request().Context())
	defer cancel()

	res, err := s.pipeline.Run(ctx, req.MethodID, req.toRequest())
	if err != nil {
		return s.httpError(ctx, err)
	}
	if res.Status == orchestrator.RunCancelled && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, res)
	}
	return c.JSON(http.StatusOK, res)
}

// handleQueryStream writes run events as JSON lines, flushing after each one.
// A run cut short by the run timeout ends with a cancelled-run marker line.
func (s *Server) handleQueryStream(c echo.Context) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	ctx, cancel := s.runContext(c.Request().Context())
	defer cancel()

	st, err := s.pipeline.Stream(ctx, req.MethodID, req.toRequest())
	if err != nil {
		return s.httpError(ctx, err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, contentTypeNDJSON)
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.Header().Set(HeaderRunID, st.RunID)
	resp.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(resp)
	client := c.Request().Context()
	for {
		ev, err := st.Next(client)
		if errors.Is(err, stream.ErrClosed) {
			if st.Status() == stream.StatusCancelled && client.Err() == nil {
				if err := enc.Encode(stream.NewCancelledEvent(st.RunID)); err == nil {
					resp.Flush()
				}
			}
			return nil
		}
		if err != nil {
			// Client went away; the run sees the same cancellation.
			return nil
		}
		if err := enc.Encode(ev); err != nil {
			s.logger.Warn(ctx, "stream write failed", zap.Error(err))
			cancel()
			return nil
		}
		resp.Flush()
	}
}

// handleMethod summarizes a loaded method.
func (s *Server) handleMethod(c echo.Context) error {
	o, err := s.pipeline.Orchestrator(c.Param("id"))
	if err != nil {
		return s.httpError(c.Request().Context(), err)
	}
	return c.JSON(http.StatusOK, summarize(o))
}

// handleStartRun starts a background run whose events are published over NATS.
func (s *Server) handleStartRun(c echo.Context) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	ctx, cancel := s.runContext(context.WithoutCancel(c.Request().Context()))

	st, err := s.pipeline.Stream(ctx, req.MethodID, req.toRequest())
	if err != nil {
		cancel()
		return s.httpError(ctx, err)
	}
	go func() {
		defer cancel()
		<-st.Done()
	}()

	return c.JSON(http.StatusAccepted, RunAccepted{
		RunID:     st.RunID,
		EventsURL: fmt.Sprintf("/api/v1/runs/%s/events", st.RunID),
	})
}

// httpError maps pipeline errors to HTTP errors.
func (s *Server) httpError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, method.ErrConfigNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, method.ErrConfigInvalid):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error(ctx, "pipeline request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
