package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/makr-code/VCC-Veritas-sub002/internal/config"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// maxMessageSize bounds gRPC messages to Qdrant.
const maxMessageSize = 50 * 1024 * 1024

// pointQuerier is the subset of *qdrant.Client the retriever uses.
type pointQuerier interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Qdrant retrieves passages from a Qdrant collection whose points carry a
// "content" payload and optional "id", "source" and string metadata.
type Qdrant struct {
	client     pointQuerier
	collection string
	topK       int
	embed      EmbeddingFunc
	logger     *logging.Logger
}

// NewQdrant connects to Qdrant over gRPC.
func NewQdrant(cfg config.QdrantConfig, topK int, embed EmbeddingFunc, logger *logging.Logger) (*Qdrant, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey.Value(),
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMessageSize),
				grpc.MaxCallSendMsgSize(maxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return newQdrant(client, cfg.Collection, topK, embed, logger), nil
}

func newQdrant(client pointQuerier, collection string, topK int, embed EmbeddingFunc, logger *logging.Logger) *Qdrant {
	if logger == nil {
		logger = logging.NewNop()
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Qdrant{client: client, collection: collection, topK: topK, embed: embed, logger: logger.Named("rag")}
}

// Search implements Retriever.
func (q *Qdrant) Search(ctx context.Context, query string) ([]Passage, error) {
	ctx, span := tracer.Start(ctx, "rag.QdrantSearch")
	defer span.End()
	span.SetAttributes(attribute.String("collection", q.collection), attribute.Int("k", q.topK))

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	vector, err := q.embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(q.topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", q.collection, err)
	}

	out := make([]Passage, 0, len(points))
	for _, pt := range points {
		p := Passage{Score: pt.Score}
		for k, v := range pt.Payload {
			s, ok := v.Kind.(*qdrant.Value_StringValue)
			if !ok {
				continue
			}
			switch k {
			case "content":
				p.Content = s.StringValue
			case "id":
				p.ID = s.StringValue
			case "source":
				p.Source = s.StringValue
			default:
				if p.Metadata == nil {
					p.Metadata = make(map[string]string)
				}
				p.Metadata[k] = s.StringValue
			}
		}
		if p.ID == "" && pt.Id != nil {
			p.ID = pt.Id.GetUuid()
		}
		out = append(out, p)
	}

	q.logger.Debug(ctx, "qdrant search", zap.Int("results", len(out)))
	return out, nil
}
