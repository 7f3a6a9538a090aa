package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/askrepo/askrepo/config"
	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/provider"
)

// Searcher is the vector search surface of the store.
type Searcher interface {
	SearchEmbeddings(ctx context.Context, projectID string, vector []float32, topK int, maxDistance float64) ([]store.EmbeddingSearchResult, error)
}

// Match is one retrieved chunk, ranked by similarity.
type Match struct {
	FilePath   string  `json:"filePath"`
	ChunkIndex int     `json:"chunkIndex"`
	ChunkTotal int     `json:"chunkTotal"`
	Content    string  `json:"content"`
	Language   string  `json:"language"`
	Similarity float64 `json:"similarity"`
}

// Engine embeds queries and runs project-scoped similarity search.
type Engine struct {
	embedder    provider.Embedder
	searcher    Searcher
	minQueryLen int
	threshold   float64
	limit       int
}

// New builds a retrieval Engine from configuration.
func New(embedder provider.Embedder, searcher Searcher, cfg config.RetrievalConfig) *Engine {
	minLen := cfg.MinQueryLen
	if minLen <= 0 {
		minLen = 12
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.3
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10
	}
	return &Engine{
		embedder:    embedder,
		searcher:    searcher,
		minQueryLen: minLen,
		threshold:   threshold,
		limit:       limit,
	}
}

// Search returns the best-matching chunks for a query within one project.
// Queries shorter than the minimum length yield an empty result without
// calling the embedding provider. An empty result is not an error.
func (e *Engine) Search(ctx context.Context, projectID, query string) ([]Match, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project_id required")
	}
	query = strings.TrimSpace(query)
	if len(query) < e.minQueryLen {
		return nil, nil
	}

	vecs, err := e.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embed query: empty response")
	}

	maxDistance := store.SimilarityToMaxDistance(e.threshold)
	results, err := e.searcher.SearchEmbeddings(ctx, projectID, vecs[0], e.limit, maxDistance)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, res := range results {
		matches = append(matches, Match{
			FilePath:   res.FilePath,
			ChunkIndex: res.ChunkIndex,
			ChunkTotal: res.ChunkTotal,
			Content:    res.Content,
			Language:   res.Language,
			Similarity: 1 - res.Distance,
		})
	}
	return matches, nil
}
