package searcher

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/dshills/bookshelf-mcp/internal/embedder"
	"github.com/dshills/bookshelf-mcp/internal/storage"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

// benchEmbedder returns a random unit vector per call
type benchEmbedder struct {
	dimension int
	rng       *rand.Rand
}

func (b *benchEmbedder) vector() []float32 {
	v := make([]float32, b.dimension)
	for i := range v {
		v[i] = b.rng.Float32()*2 - 1
	}
	return embedder.NormalizeVector(v)
}

func (b *benchEmbedder) Status() embedder.Status { return embedder.Status{Available: true} }

func (b *benchEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	return &embedder.Embedding{Vector: b.vector(), Dimension: b.dimension, Model: "bench"}, nil
}

func (b *benchEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	resp := &embedder.BatchEmbeddingResponse{Model: "bench"}
	for range req.Texts {
		resp.Embeddings = append(resp.Embeddings, &embedder.Embedding{Vector: b.vector(), Dimension: b.dimension})
	}
	return resp, nil
}

func (b *benchEmbedder) Dimension() int { return b.dimension }
func (b *benchEmbedder) Model() string  { return "bench" }
func (b *benchEmbedder) Close() error   { return nil }

var benchWords = []string{"desert", "empire", "robot", "ocean", "dragon", "murder", "garden", "war", "love", "time"}

// setupSearchBenchmark builds a catalog of n embedded books
func setupSearchBenchmark(b *testing.B, n int) *Searcher {
	b.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		b.Fatalf("failed to create storage: %v", err)
	}
	b.Cleanup(func() { _ = store.Close() })

	emb := &benchEmbedder{dimension: embedder.DefaultDimension, rng: rand.New(rand.NewSource(1))}
	candidates := make([]types.Candidate, n)
	for i := range candidates {
		candidates[i] = types.Candidate{
			ID:      fmt.Sprintf("B%05d", i),
			Title:   fmt.Sprintf("The %s of %s", benchWords[i%len(benchWords)], benchWords[(i/7)%len(benchWords)]),
			Authors: []string{fmt.Sprintf("Author %d", i%50)},
		}
	}
	if _, err := store.UpsertRecords(ctx, candidates); err != nil {
		b.Fatalf("failed to seed records: %v", err)
	}
	for _, c := range candidates {
		err := store.SaveEmbedding(ctx, &storage.Embedding{
			RecordID: c.ID, Vector: emb.vector(), Model: "bench", Recipe: embedder.RecipeVersion,
		})
		if err != nil {
			b.Fatalf("failed to seed embedding: %v", err)
		}
	}

	return NewSearcher(store, emb, Options{})
}

func BenchmarkSemanticSearch(b *testing.B) {
	s := setupSearchBenchmark(b, 2000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, Request{Query: "desert war", Mode: ModeSemantic, Limit: 20}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkKeywordSearch(b *testing.B) {
	s := setupSearchBenchmark(b, 2000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		query := benchWords[i%len(benchWords)]
		if _, err := s.Search(ctx, Request{Query: query, Mode: ModeFTS, Limit: 20}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBrowse(b *testing.B) {
	s := setupSearchBenchmark(b, 2000)
	ctx := context.Background()
	req := storage.BrowseRequest{
		Filters: []storage.Filter{{Field: storage.FieldTitle, Value: "empire"}},
		SortBy:  storage.SortAuthor,
		PerPage: 50,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Browse(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCachedSearch(b *testing.B) {
	s := setupSearchBenchmark(b, 500)
	s.opts.CacheTTL = time.Hour
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, Request{Query: "ocean", Mode: ModeFTS}); err != nil {
			b.Fatal(err)
		}
	}
}
