package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/makr-code/VCC-Veritas-sub002/internal/config"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	// DefaultTopK is the number of passages returned when none is configured.
	DefaultTopK = 5

	// DefaultCollection is the chromem collection used when none is configured.
	DefaultCollection = "veritas_passages"
)

var tracer = otel.Tracer("veritas/rag")

// Store is a chromem-go backed passage store.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	topK       int
	logger     *logging.Logger
}

// NewStore opens (or creates) the collection. An empty path keeps the store in memory.
func NewStore(cfg config.ChromemConfig, topK int, embed EmbeddingFunc, logger *logging.Logger) (*Store, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(name, nil, chromem.EmbeddingFunc(embed))
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}

	logger.Named("rag").Info(context.Background(), "chromem store ready",
		zap.String("collection", name),
		zap.Bool("persistent", cfg.Path != ""),
		zap.Int("documents", col.Count()),
	)
	return &Store{db: db, collection: col, topK: topK, logger: logger.Named("rag")}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// AddPassages embeds and stores passages. Passages without an ID get one derived
// from their position and source.
func (s *Store) AddPassages(ctx context.Context, passages []Passage) error {
	ctx, span := tracer.Start(ctx, "rag.AddPassages")
	defer span.End()
	span.SetAttributes(attribute.Int("passage_count", len(passages)))

	if len(passages) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(passages))
	for i, p := range passages {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("%s#%d", p.Source, i)
		}
		md := make(map[string]string, len(p.Metadata)+1)
		for k, v := range p.Metadata {
			md[k] = v
		}
		if p.Source != "" {
			md["source"] = p.Source
		}
		docs[i] = chromem.Document{ID: id, Content: p.Content, Metadata: md}
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding passages: %w", err)
	}
	s.logger.Debug(ctx, "passages added", zap.Int("count", len(docs)))
	return nil
}

// Count returns the number of stored passages.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Search implements Retriever.
func (s *Store) Search(ctx context.Context, query string) ([]Passage, error) {
	ctx, span := tracer.Start(ctx, "rag.Search")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	k := s.topK
	count := s.collection.Count()
	if count == 0 {
		return []Passage{}, nil
	}
	if k > count {
		k = count
	}
	span.SetAttributes(attribute.Int("k", k))

	results, err := s.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	out := make([]Passage, len(results))
	for i, r := range results {
		md := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if k != "source" {
				md[k] = v
			}
		}
		if len(md) == 0 {
			md = nil
		}
		out[i] = Passage{
			ID:       r.ID,
			Content:  r.Content,
			Source:   r.Metadata["source"],
			Score:    r.Similarity,
			Metadata: md,
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}
