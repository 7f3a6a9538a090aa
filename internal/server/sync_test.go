package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/askrepo/askrepo/internal/chunker"
	"github.com/askrepo/askrepo/internal/crawler"
	"github.com/askrepo/askrepo/internal/indexer"
	"github.com/askrepo/askrepo/internal/store"
)

type errCrawler struct{ err error }

func (c *errCrawler) Crawl(ctx context.Context, ref crawler.RepoRef) (*crawler.CrawlResult, error) {
	return nil, c.err
}

type noopEmbedder struct{}

func (noopEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func syncContext(t *testing.T, st *store.Store, idx *indexer.Service) (echo.Context, *httptest.ResponseRecorder, *SyncHandler) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/projects/proj-1/sync", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	ctx.SetParamNames("id")
	ctx.SetParamValues("proj-1")
	return ctx, rec, &SyncHandler{Store: st, Indexer: idx}
}

func projectRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "user_id", "name", "repo_owner", "repo_name", "repo_branch",
		"tech_stack", "sync_cron", "created_at", "updated_at",
	}).AddRow("proj-1", "user-1", "widgets", "acme", "widgets", "main", []byte(`[]`), "", now, now)
}

func TestSyncUnknownProjectNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &store.Store{DB: db}

	mock.ExpectQuery(`FROM projects WHERE id=\$1 AND user_id=\$2`).
		WithArgs("proj-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ctx, _, handler := syncContext(t, st, nil)
	herr := handler.sync(ctx)
	he, ok := herr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %v", herr)
	}
}

func TestSyncCrawlFailureMapsToBadGateway(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &store.Store{DB: db}

	mock.ExpectQuery(`FROM projects WHERE id=\$1 AND user_id=\$2`).
		WithArgs("proj-1", "user-1").
		WillReturnRows(projectRow())

	cr := &errCrawler{err: fmt.Errorf("%w: acme/widgets@main: tree not found", crawler.ErrCrawlFailed)}
	idx := indexer.New(cr, chunker.New(0), noopEmbedder{}, st, "text-embedding-3-small", 0)

	ctx, _, handler := syncContext(t, st, idx)
	herr := handler.sync(ctx)
	he, ok := herr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %v", herr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLastSyncNeverSyncedNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &store.Store{DB: db}

	mock.ExpectQuery(`FROM projects WHERE id=\$1 AND user_id=\$2`).
		WithArgs("proj-1", "user-1").
		WillReturnRows(projectRow())
	mock.ExpectQuery(`FROM project_syncs WHERE project_id=\$1`).
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/proj-1/sync", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	ctx.SetParamNames("id")
	ctx.SetParamValues("proj-1")

	handler := &SyncHandler{Store: st}
	herr := handler.last(ctx)
	he, ok := herr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %v", herr)
	}
}
