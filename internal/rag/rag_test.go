package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/makr-code/VCC-Veritas-sub002/internal/config"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 256

// wordEmbed hashes each word into a bucket and normalizes the result, so texts
// sharing words land close together.
func wordEmbed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, testDims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,?!")))
		vec[h.Sum32()%testDims]++
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if sum == 0 {
		vec[0] = 1
		return vec, nil
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func newMemoryStore(t *testing.T, topK int) *Store {
	t.Helper()
	s, err := NewStore(config.ChromemConfig{Collection: "test"}, topK, wordEmbed, nil)
	require.NoError(t, err)
	return s
}

func TestStore_SearchRanksMatchingPassageFirst(t *testing.T) {
	s := newMemoryStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.AddPassages(ctx, []Passage{
		{ID: "p1", Content: "Photosynthesis converts light energy into chemical energy", Source: "bio.md"},
		{ID: "p2", Content: "Volcanoes erupt molten magma from the mantle", Source: "geo.md"},
		{ID: "p3", Content: "Tides follow the gravitational pull of the moon", Source: "astro.md", Metadata: map[string]string{"lang": "en"}},
	}))
	assert.Equal(t, 3, s.Count())

	got, err := s.Search(ctx, "how does photosynthesis use light energy")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "bio.md", got[0].Source)
	assert.Greater(t, got[0].Score, got[1].Score)
	assert.Nil(t, got[0].Metadata)
}

func TestStore_SearchCapsAtCount(t *testing.T) {
	s := newMemoryStore(t, 10)
	ctx := context.Background()
	require.NoError(t, s.AddPassages(ctx, []Passage{{ID: "only", Content: "single passage", Metadata: map[string]string{"lang": "en"}}}))

	got, err := s.Search(ctx, "passage")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]string{"lang": "en"}, got[0].Metadata)
}

func TestStore_SearchEmptyCollection(t *testing.T) {
	s := newMemoryStore(t, 3)
	got, err := s.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_SearchRejectsBlankQuery(t *testing.T) {
	s := newMemoryStore(t, 3)
	_, err := s.Search(context.Background(), "  ")
	assert.Error(t, err)
}

func TestStore_AddPassagesDerivesIDs(t *testing.T) {
	s := newMemoryStore(t, 3)
	ctx := context.Background()
	require.NoError(t, s.AddPassages(ctx, []Passage{{Content: "alpha", Source: "a.md"}, {Content: "beta", Source: "a.md"}}))

	got, err := s.Search(ctx, "alpha")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "a.md#0", got[0].ID)
}

func TestStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	cfg := config.ChromemConfig{Path: dir, Collection: "persist"}
	ctx := context.Background()

	s, err := NewStore(cfg, 3, wordEmbed, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddPassages(ctx, []Passage{{ID: "kept", Content: "durable passage"}}))

	reopened, err := NewStore(cfg, 3, wordEmbed, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
}

func TestNewStore_RequiresEmbedder(t *testing.T) {
	_, err := NewStore(config.ChromemConfig{}, 3, nil, nil)
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/veritas/data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "veritas/data"), got)

	got, err = expandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}

type fakeQuerier struct {
	req    *qdrant.QueryPoints
	points []*qdrant.ScoredPoint
	err    error
}

func (f *fakeQuerier) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.req = req
	return f.points, f.err
}

func TestQdrant_SearchMapsPayload(t *testing.T) {
	fq := &fakeQuerier{points: []*qdrant.ScoredPoint{
		{
			Id:    qdrant.NewID("5c56c793-69f3-4fbf-87e6-c4bf54c28c26"),
			Score: 0.91,
			Payload: map[string]*qdrant.Value{
				"content": qdrant.NewValueString("Mitochondria produce ATP."),
				"source":  qdrant.NewValueString("cells.md"),
				"lang":    qdrant.NewValueString("en"),
				"page":    qdrant.NewValueInt(4),
			},
		},
		{
			Score: 0.5,
			Payload: map[string]*qdrant.Value{
				"id":      qdrant.NewValueString("doc-2"),
				"content": qdrant.NewValueString("Ribosomes build proteins."),
			},
		},
	}}
	q := newQdrant(fq, "papers", 2, wordEmbed, nil)

	got, err := q.Search(context.Background(), "energy in cells")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "5c56c793-69f3-4fbf-87e6-c4bf54c28c26", got[0].ID)
	assert.Equal(t, "Mitochondria produce ATP.", got[0].Content)
	assert.Equal(t, "cells.md", got[0].Source)
	assert.Equal(t, map[string]string{"lang": "en"}, got[0].Metadata)
	assert.InDelta(t, 0.91, got[0].Score, 1e-6)
	assert.Equal(t, "doc-2", got[1].ID)

	assert.Equal(t, "papers", fq.req.CollectionName)
	assert.Equal(t, uint64(2), fq.req.GetLimit())
}

func TestQdrant_SearchErrors(t *testing.T) {
	fq := &fakeQuerier{err: errors.New("unavailable")}
	q := newQdrant(fq, "papers", 0, wordEmbed, nil)
	_, err := q.Search(context.Background(), "query")
	assert.ErrorContains(t, err, "unavailable")

	failingEmbed := func(context.Context, string) ([]float32, error) { return nil, errors.New("no model") }
	q = newQdrant(fq, "papers", 3, failingEmbed, nil)
	_, err = q.Search(context.Background(), "query")
	assert.ErrorContains(t, err, "embedding query")
}

func TestLoadSeedDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("First paragraph.\n\nSecond paragraph.\r\n\r\n\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("Nested note."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.json"), []byte(`{"x":1}`), 0o644))

	got, err := LoadSeedDir(dir)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Passage{ID: "a.md#0", Content: "First paragraph.", Source: "a.md"}, got[0])
	assert.Equal(t, "a.md#1", got[1].ID)
	assert.Equal(t, "Second paragraph.", got[1].Content)
	assert.Equal(t, "sub/b.txt", got[2].Source)
}

func TestLoadSeedDir_Missing(t *testing.T) {
	_, err := LoadSeedDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestNew_Providers(t *testing.T) {
	ctx := context.Background()

	r, s, err := New(ctx, config.RAGConfig{Provider: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Nil(t, s)

	_, _, err = New(ctx, config.RAGConfig{Provider: "pinecone"}, nil)
	assert.ErrorContains(t, err, "unsupported rag provider")

	_, _, err = New(ctx, config.RAGConfig{Provider: "chromem"}, nil)
	assert.ErrorContains(t, err, "base_url")

	r, s, err = New(ctx, config.RAGConfig{
		Provider:   "chromem",
		TopK:       3,
		Rerank:     true,
		Embeddings: config.EmbeddingsConfig{BaseURL: "http://127.0.0.1:1/v1", Model: "test"},
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Reranker{}, r)
	assert.NotNil(t, s)
}

func TestDegraded(t *testing.T) {
	p := Degraded(errors.New("timeout"))
	assert.Equal(t, "rag-degraded", p.ID)
	assert.Equal(t, "timeout", p.Metadata["error"])
}
