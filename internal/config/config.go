// Package config provides configuration loading for veritas.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// VERITAS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete veritas configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	LLM        LLMConfig        `koanf:"llm"`
	RAG        RAGConfig        `koanf:"rag"`
	Methods    MethodsConfig    `koanf:"methods"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Stream     StreamConfig     `koanf:"stream"`
	NATS       NATSConfig       `koanf:"nats"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LLMConfig selects and configures the inference backend.
type LLMConfig struct {
	Provider          string   `koanf:"provider"` // openai, anthropic, ollama
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	DefaultModel      string   `koanf:"default_model"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
	Timeout           Duration `koanf:"timeout"`
}

// RAGConfig configures passage retrieval.
type RAGConfig struct {
	Provider   string           `koanf:"provider"` // none, chromem, qdrant
	TopK       int              `koanf:"top_k"`
	SeedDir    string           `koanf:"seed_dir"`
	Rerank     bool             `koanf:"rerank"` // reorder passages by query term overlap
	Chromem    ChromemConfig    `koanf:"chromem"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig configures the remote Qdrant store (gRPC).
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
}

// EmbeddingsConfig configures the OpenAI-compatible embedding endpoint.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// MethodsConfig locates method documents and prompt templates.
type MethodsConfig struct {
	Dir        string `koanf:"dir"`
	PromptsDir string `koanf:"prompts_dir"`
	Default    string `koanf:"default"`
	Watch      bool   `koanf:"watch"`
}

// PipelineConfig holds engine-wide knobs that method documents may override.
type PipelineConfig struct {
	MaxAgentConcurrency int      `koanf:"max_agent_concurrency"`
	RetryBaseDelay      Duration `koanf:"retry_base_delay"`
	DefaultConfidence   float64  `koanf:"default_confidence"`
	RunTimeout          Duration `koanf:"run_timeout"`
	ScrubQueries        bool     `koanf:"scrub_queries"` // redact credentials from retrieval queries
}

// SupervisorConfig configures the LLM-backed supervisor and agent runner used by
// supervisor-enabled methods. Empty models fall back to llm.default_model.
type SupervisorConfig struct {
	Enabled      bool     `koanf:"enabled"`
	Model        string   `koanf:"model"`
	AgentModel   string   `koanf:"agent_model"`
	AgentTypes   []string `koanf:"agent_types"`
	AgentTimeout Duration `koanf:"agent_timeout"`
}

// StreamConfig sizes the per-run event queue.
type StreamConfig struct {
	BufferSize int `koanf:"buffer_size"`
}

// NATSConfig enables publishing stream events to NATS.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig is the user-facing subset of logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the user-facing subset of telemetry.Config.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai, anthropic or ollama, got %q", c.LLM.Provider))
	}
	if c.LLM.Provider == "anthropic" && c.LLM.BaseURL != "" {
		errs = append(errs, errors.New("llm.base_url is not supported for provider anthropic"))
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("llm.requests_per_second must be >= 0"))
	}
	switch c.RAG.Provider {
	case "none", "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("rag.provider must be none, chromem or qdrant, got %q", c.RAG.Provider))
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, errors.New("rag.top_k must be > 0"))
	}
	if c.Methods.Dir == "" {
		errs = append(errs, errors.New("methods.dir is required"))
	}
	if c.Methods.Default == "" {
		errs = append(errs, errors.New("methods.default is required"))
	}
	if c.Pipeline.MaxAgentConcurrency <= 0 {
		errs = append(errs, errors.New("pipeline.max_agent_concurrency must be > 0"))
	}
	if c.Pipeline.DefaultConfidence < 0 || c.Pipeline.DefaultConfidence > 1 {
		errs = append(errs, errors.New("pipeline.default_confidence must be within [0,1]"))
	}
	if c.Stream.BufferSize <= 0 {
		errs = append(errs, errors.New("stream.buffer_size must be > 0"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol))
		}
	}
	return errors.Join(errs...)
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8420
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "llama3.1:8b"
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 2
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 4
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}

	if cfg.RAG.Provider == "" {
		cfg.RAG.Provider = "chromem"
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.Chromem.Collection == "" {
		cfg.RAG.Chromem.Collection = "veritas_passages"
	}
	if cfg.RAG.Qdrant.Host == "" {
		cfg.RAG.Qdrant.Host = "localhost"
	}
	if cfg.RAG.Qdrant.Port == 0 {
		cfg.RAG.Qdrant.Port = 6334
	}
	if cfg.RAG.Qdrant.Collection == "" {
		cfg.RAG.Qdrant.Collection = "veritas_passages"
	}
	if cfg.RAG.Embeddings.BaseURL == "" {
		cfg.RAG.Embeddings.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.RAG.Embeddings.Model == "" {
		cfg.RAG.Embeddings.Model = "nomic-embed-text"
	}

	if cfg.Methods.Dir == "" {
		cfg.Methods.Dir = "configs/methods"
	}
	if cfg.Methods.PromptsDir == "" {
		cfg.Methods.PromptsDir = "configs/prompts"
	}
	if cfg.Methods.Default == "" {
		cfg.Methods.Default = "scientific"
	}

	if cfg.Pipeline.MaxAgentConcurrency == 0 {
		cfg.Pipeline.MaxAgentConcurrency = 4
	}
	if cfg.Pipeline.RetryBaseDelay == 0 {
		cfg.Pipeline.RetryBaseDelay = Duration(time.Second)
	}
	if cfg.Pipeline.DefaultConfidence == 0 {
		cfg.Pipeline.DefaultConfidence = 0.5
	}

	if cfg.Supervisor.Model == "" {
		cfg.Supervisor.Model = cfg.LLM.DefaultModel
	}
	if cfg.Supervisor.AgentModel == "" {
		cfg.Supervisor.AgentModel = cfg.Supervisor.Model
	}
	if len(cfg.Supervisor.AgentTypes) == 0 {
		cfg.Supervisor.AgentTypes = []string{"literature", "data_analysis", "fact_check"}
	}
	if cfg.Supervisor.AgentTimeout == 0 {
		cfg.Supervisor.AgentTimeout = Duration(2 * time.Minute)
	}

	if cfg.Stream.BufferSize == 0 {
		cfg.Stream.BufferSize = 64
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "veritas.runs"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "veritas"
	}
}
