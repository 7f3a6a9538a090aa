package indexer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/askrepo/askrepo/internal/chunker"
	"github.com/askrepo/askrepo/internal/crawler"
	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/provider"
)

// Store is the persistence surface the indexer writes through.
type Store interface {
	ReplaceFileEmbeddings(ctx context.Context, projectID, filePath string, records []store.EmbeddingRecord) error
	DeleteFileEmbeddings(ctx context.Context, projectID string, filePaths []string) error
	ListIndexedFiles(ctx context.Context, projectID string) ([]string, error)
	LogUsage(ctx context.Context, rec store.UsageRecord) error
	RecordSync(ctx context.Context, rec store.SyncRecord) error
}

// Crawler fetches repository files.
type Crawler interface {
	Crawl(ctx context.Context, ref crawler.RepoRef) (*crawler.CrawlResult, error)
}

// ChunkFailure records one chunk whose embedding failed during indexing.
type ChunkFailure struct {
	FilePath   string
	ChunkIndex int
	Err        string
}

// IndexSummary reports the outcome of one indexing pass.
type IndexSummary struct {
	FilesIndexed int
	FilesSkipped int
	FilesFailed  int
	ChunksStored int
	Tokens       int64
	Cost         float64
	Failures     []ChunkFailure
	CrawlErrors  []crawler.FileError
}

// Service runs the crawl, chunk, embed and store pipeline for a project.
type Service struct {
	crawler   Crawler
	splitter  *chunker.Splitter
	embedder  provider.Embedder
	store     Store
	model     string
	costPer1K float64
	logger    *log.Logger
}

// New builds an indexing Service.
func New(cr Crawler, splitter *chunker.Splitter, embedder provider.Embedder, st Store, model string, costPer1K float64) *Service {
	return &Service{
		crawler:   cr,
		splitter:  splitter,
		embedder:  embedder,
		store:     st,
		model:     model,
		costPer1K: costPer1K,
		logger:    log.New(log.Writer(), "[INDEX] ", log.LstdFlags),
	}
}

// Sync crawls the project repository, re-indexes every fetched file and
// removes embeddings for files the repository no longer contains. The
// crawl errors propagate; indexing failures are absorbed into the summary.
func (s *Service) Sync(ctx context.Context, project store.Project) (*IndexSummary, error) {
	branch := project.RepoBranch
	if branch == "" {
		branch = "main"
	}
	ref := crawler.RepoRef{Owner: project.RepoOwner, Repo: project.RepoName, Branch: branch}
	started := time.Now()

	res, err := s.crawler.Crawl(ctx, ref)
	if err != nil {
		return nil, err
	}

	summary, err := s.IndexFiles(ctx, project.UserID, project.ID, res.Files)
	if err != nil {
		return nil, err
	}
	summary.CrawlErrors = res.Failed
	summary.FilesFailed = len(res.Failed)

	if err := s.pruneStale(ctx, project.ID, res.Files); err != nil {
		s.logger.Printf("prune stale files for project %s: %v", project.ID, err)
	}

	rec := store.SyncRecord{
		ProjectID:    project.ID,
		FilesIndexed: summary.FilesIndexed,
		FilesFailed:  summary.FilesFailed,
		ChunksStored: summary.ChunksStored,
		Tokens:       summary.Tokens,
		Cost:         summary.Cost,
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}
	if err := s.store.RecordSync(ctx, rec); err != nil {
		s.logger.Printf("record sync for project %s: %v", project.ID, err)
	}
	return summary, nil
}

// IndexFiles chunks and embeds the given files and replaces their stored
// vectors. Whitespace-only files are skipped; failed chunk embeddings and
// failed per-file writes are skipped and reported, never aborting the pass.
func (s *Service) IndexFiles(ctx context.Context, userID, projectID string, files []crawler.FileRecord) (*IndexSummary, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project_id required")
	}
	summary := &IndexSummary{}
	for _, file := range files {
		chunks := s.splitter.Split(file.Content)
		if len(chunks) == 0 {
			summary.FilesSkipped++
			continue
		}

		records := make([]store.EmbeddingRecord, 0, len(chunks))
		for _, chunk := range chunks {
			vecs, err := s.embedder.CreateEmbedding(ctx, []string{chunk.Content})
			if err != nil || len(vecs) == 0 {
				if err == nil {
					err = fmt.Errorf("empty embedding response")
				}
				s.logger.Printf("embed %s chunk %d: %v", file.Path, chunk.Index, err)
				summary.Failures = append(summary.Failures, ChunkFailure{
					FilePath:   file.Path,
					ChunkIndex: chunk.Index,
					Err:        err.Error(),
				})
				continue
			}
			records = append(records, store.EmbeddingRecord{
				ProjectID:  projectID,
				FilePath:   file.Path,
				ChunkIndex: chunk.Index,
				ChunkTotal: chunk.Total,
				Content:    chunk.Content,
				Language:   file.Language,
				SizeBytes:  len(chunk.Content),
				Vector:     vecs[0],
			})
		}
		if len(records) == 0 {
			// Every chunk failed; keep whatever was stored before.
			continue
		}

		if err := s.store.ReplaceFileEmbeddings(ctx, projectID, file.Path, records); err != nil {
			// One file's write failing must not sink the rest of the pass.
			s.logger.Printf("store embeddings for %s: %v", file.Path, err)
			for _, rec := range records {
				summary.Failures = append(summary.Failures, ChunkFailure{
					FilePath:   file.Path,
					ChunkIndex: rec.ChunkIndex,
					Err:        err.Error(),
				})
			}
			continue
		}
		summary.FilesIndexed++
		summary.ChunksStored += len(records)

		for _, rec := range records {
			tokens := int64(provider.EstimateTokens(rec.Content))
			cost := provider.Cost(int(tokens), s.costPer1K)
			summary.Tokens += tokens
			summary.Cost += cost
			usage := store.UsageRecord{
				UserID:      userID,
				ProjectID:   projectID,
				Kind:        store.UsageKindEmbedding,
				Model:       s.model,
				InputTokens: tokens,
				Cost:        cost,
			}
			if err := s.store.LogUsage(ctx, usage); err != nil {
				s.logger.Printf("log embedding usage for %s: %v", file.Path, err)
			}
		}
	}
	return summary, nil
}

// pruneStale deletes embeddings for files no longer present in the crawl.
func (s *Service) pruneStale(ctx context.Context, projectID string, files []crawler.FileRecord) error {
	indexed, err := s.store.ListIndexedFiles(ctx, projectID)
	if err != nil {
		return err
	}
	current := make(map[string]struct{}, len(files))
	for _, f := range files {
		current[f.Path] = struct{}{}
	}
	var stale []string
	for _, p := range indexed {
		if _, ok := current[p]; !ok {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return s.store.DeleteFileEmbeddings(ctx, projectID, stale)
}
