package rag

import (
	"context"
	"fmt"

	"github.com/makr-code/VCC-Veritas-sub002/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// EmbeddingFunc embeds a single text.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// NewEmbeddingFunc embeds through an OpenAI-compatible /v1/embeddings endpoint
// (Ollama, vLLM, TEI or OpenAI itself).
func NewEmbeddingFunc(cfg config.EmbeddingsConfig) (EmbeddingFunc, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embeddings base_url is required")
	}
	token := cfg.APIKey.Value()
	if token == "" {
		token = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}, nil
}
