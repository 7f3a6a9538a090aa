package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/askrepo/askrepo/config"
	"github.com/askrepo/askrepo/internal/store"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2}
	}
	return vecs, nil
}

type fakeSearcher struct {
	results     []store.EmbeddingSearchResult
	maxDistance float64
	topK        int
	projectID   string
}

func (f *fakeSearcher) SearchEmbeddings(_ context.Context, projectID string, _ []float32, topK int, maxDistance float64) ([]store.EmbeddingSearchResult, error) {
	f.projectID = projectID
	f.topK = topK
	f.maxDistance = maxDistance
	var out []store.EmbeddingSearchResult
	for _, r := range f.results {
		if maxDistance >= 0 && r.Distance > maxDistance {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func defaultConfig() config.RetrievalConfig {
	return config.RetrievalConfig{MinQueryLen: 12, Threshold: 0.3, Limit: 10}
}

func TestSearchShortQuerySkipsEmbedding(t *testing.T) {
	emb := &fakeEmbedder{}
	eng := New(emb, &fakeSearcher{}, defaultConfig())

	matches, err := eng.Search(context.Background(), "proj-1", "short query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches != nil {
		t.Errorf("matches = %v, want nil", matches)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for short query", emb.calls)
	}
}

func TestSearchMapsDistanceToSimilarity(t *testing.T) {
	srch := &fakeSearcher{results: []store.EmbeddingSearchResult{
		{FilePath: "a.go", ChunkIndex: 0, ChunkTotal: 1, Content: "aaa", Language: "go", Distance: 0.2},
		{FilePath: "b.go", ChunkIndex: 1, ChunkTotal: 2, Content: "bbb", Language: "go", Distance: 0.5},
	}}
	eng := New(&fakeEmbedder{}, srch, defaultConfig())

	matches, err := eng.Search(context.Background(), "proj-1", "how does auth middleware work")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d", len(matches))
	}
	if matches[0].Similarity <= matches[1].Similarity {
		t.Errorf("results not ordered by similarity: %v", matches)
	}
	if srch.projectID != "proj-1" {
		t.Errorf("search not scoped to project: %q", srch.projectID)
	}
	if srch.maxDistance != 0.7 {
		t.Errorf("maxDistance = %v, want 0.7", srch.maxDistance)
	}
}

func TestSearchThresholdMonotonicity(t *testing.T) {
	results := []store.EmbeddingSearchResult{
		{FilePath: "close.go", Distance: 0.1},
		{FilePath: "mid.go", Distance: 0.5},
		{FilePath: "far.go", Distance: 0.85},
	}
	query := "explain the indexing pipeline"

	loose := New(&fakeEmbedder{}, &fakeSearcher{results: results}, config.RetrievalConfig{MinQueryLen: 12, Threshold: 0.1, Limit: 10})
	strict := New(&fakeEmbedder{}, &fakeSearcher{results: results}, config.RetrievalConfig{MinQueryLen: 12, Threshold: 0.6, Limit: 10})

	looseMatches, err := loose.Search(context.Background(), "p", query)
	if err != nil {
		t.Fatalf("loose: %v", err)
	}
	strictMatches, err := strict.Search(context.Background(), "p", query)
	if err != nil {
		t.Fatalf("strict: %v", err)
	}
	if len(strictMatches) > len(looseMatches) {
		t.Errorf("raising the threshold grew the result set: %d > %d", len(strictMatches), len(looseMatches))
	}
	for _, m := range strictMatches {
		found := false
		for _, lm := range looseMatches {
			if lm.FilePath == m.FilePath {
				found = true
			}
		}
		if !found {
			t.Errorf("strict match %s missing from loose results", m.FilePath)
		}
	}
}

func TestSearchEmbedderError(t *testing.T) {
	eng := New(&fakeEmbedder{err: errors.New("quota exceeded")}, &fakeSearcher{}, defaultConfig())
	if _, err := eng.Search(context.Background(), "p", "a sufficiently long question"); err == nil {
		t.Fatal("expected error when embedding fails")
	}
}

func TestSearchEmptyResultIsNotError(t *testing.T) {
	eng := New(&fakeEmbedder{}, &fakeSearcher{}, defaultConfig())
	matches, err := eng.Search(context.Background(), "p", "a sufficiently long question")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %v", matches)
	}
}
