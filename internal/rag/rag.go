// Package rag retrieves ranked passages for a query. Backends are an embedded
// chromem-go collection or a remote Qdrant collection; both embed queries through
// an OpenAI-compatible endpoint via langchaingo.
package rag

import (
	"context"
	"fmt"

	"github.com/makr-code/VCC-Veritas-sub002/internal/config"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
)

// Passage is one retrieved text passage.
type Passage struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Source   string            `json:"source,omitempty"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Retriever searches passages for a query.
type Retriever interface {
	Search(ctx context.Context, query string) ([]Passage, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string) ([]Passage, error)

// Search implements Retriever.
func (f RetrieverFunc) Search(ctx context.Context, query string) ([]Passage, error) {
	return f(ctx, query)
}

// Degraded is the placeholder passage used when retrieval fails.
func Degraded(err error) Passage {
	return Passage{
		ID:       "rag-degraded",
		Content:  "Retrieval was unavailable for this query; answer from general knowledge.",
		Source:   "degraded",
		Metadata: map[string]string{"degraded": "true", "error": err.Error()},
	}
}

// New builds the retriever selected by cfg.Provider. Provider "none" returns a
// nil Retriever and nil error. The chromem backend is also returned as *Store so
// callers can ingest seed passages. With cfg.Rerank the retriever is wrapped in
// a Reranker.
func New(ctx context.Context, cfg config.RAGConfig, logger *logging.Logger) (Retriever, *Store, error) {
	r, store, err := newBackend(ctx, cfg, logger)
	if err != nil || r == nil || !cfg.Rerank {
		return r, store, err
	}
	return NewReranker(r, cfg.TopK), store, nil
}

func newBackend(_ context.Context, cfg config.RAGConfig, logger *logging.Logger) (Retriever, *Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	switch cfg.Provider {
	case "", "none":
		return nil, nil, nil
	case "chromem":
		embed, err := NewEmbeddingFunc(cfg.Embeddings)
		if err != nil {
			return nil, nil, err
		}
		store, err := NewStore(cfg.Chromem, cfg.TopK, embed, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "qdrant":
		embed, err := NewEmbeddingFunc(cfg.Embeddings)
		if err != nil {
			return nil, nil, err
		}
		q, err := NewQdrant(cfg.Qdrant, cfg.TopK, embed, logger)
		if err != nil {
			return nil, nil, err
		}
		return q, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported rag provider %q", cfg.Provider)
	}
}
