// Package llm provides the text-generation client used by standard phases.
//
// Generator is the contract the phase executor depends on; Client implements it
// over langchaingo models (OpenAI-compatible, Anthropic or Ollama) with client-side
// rate limiting.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/config"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty response from model")

// Request is one generation call.
type Request struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veritas",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM generation calls by provider and result",
		},
		[]string{"provider", "result"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veritas",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of LLM generation calls in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"provider"},
	)
)

// Client implements Generator over a langchaingo model.
type Client struct {
	provider     string
	defaultModel string
	model        llms.Model
	limiter      *rate.Limiter
	logger       *logging.Logger
}

// NewClient builds a client for the configured provider.
func NewClient(cfg config.LLMConfig, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "openai":
		token := cfg.APIKey.Value()
		if token == "" {
			// OpenAI-compatible local servers ignore the token but langchaingo requires one.
			token = "placeholder"
		}
		opts := []openai.Option{openai.WithToken(token), openai.WithModel(cfg.DefaultModel)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case "anthropic":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("anthropic API key required")
		}
		model, err = anthropic.New(anthropic.WithToken(cfg.APIKey.Value()), anthropic.WithModel(cfg.DefaultModel))
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.DefaultModel)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}

	return NewWithModel(cfg.Provider, model, cfg.DefaultModel, cfg.RequestsPerSecond, cfg.Burst, logger), nil
}

// NewWithModel wraps an existing langchaingo model. rps <= 0 disables rate limiting.
func NewWithModel(provider string, model llms.Model, defaultModel string, rps float64, burst int, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		provider:     provider,
		defaultModel: defaultModel,
		model:        model,
		limiter:      rate.NewLimiter(limit, burst),
		logger:       logger.Named("llm"),
	}
}

// Generate implements Generator. The request timeout bounds both the rate-limit
// wait and the call itself.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	modelName := req.Model
	if modelName == "" {
		modelName = c.defaultModel
	}
	opts := []llms.CallOption{llms.WithModel(modelName), llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, c.model, req.Prompt, opts...)
	callDuration.WithLabelValues(c.provider).Observe(time.Since(start).Seconds())

	if err != nil {
		callsTotal.WithLabelValues(c.provider, "error").Inc()
		return "", fmt.Errorf("%s generate: %w", c.provider, err)
	}
	if strings.TrimSpace(text) == "" {
		callsTotal.WithLabelValues(c.provider, "empty").Inc()
		return "", ErrEmptyResponse
	}
	callsTotal.WithLabelValues(c.provider, "ok").Inc()

	c.logger.Trace(ctx, "llm generation",
		zap.String("model", modelName),
		zap.Float64("temperature", req.Temperature),
		zap.Int("prompt_chars", len(req.Prompt)),
		zap.Int("response_chars", len(text)),
		zap.Duration("duration", time.Since(start)),
	)
	return text, nil
}
