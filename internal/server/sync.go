package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/askrepo/askrepo/internal/crawler"
	"github.com/askrepo/askrepo/internal/indexer"
	"github.com/askrepo/askrepo/internal/runtime"
	"github.com/askrepo/askrepo/internal/store"
)

var syncTracer = otel.Tracer("askrepo/internal/server/sync")

type SyncHandler struct {
	Store   *store.Store
	Indexer *indexer.Service
}

func (h *SyncHandler) Register(g *echo.Group) {
	g.POST("/:id/sync", h.sync)
	g.GET("/:id/sync", h.last)
}

// Sync project
//
//	@Summary		Crawl and reindex a project now
//	@Description	Blocks until the pass completes; partial per-file failures are reported, not fatal
//	@Tags			projects
//	@Produce		json
//	@Security		BearerAuth
//	@Security		CookieAuth
//	@Param			id	path		string	true	"Project ID"
//	@Success		200	{object}	SyncResponse
//	@Failure		400	{object}	HTTPError
//	@Failure		404	{object}	HTTPError
//	@Failure		502	{object}	HTTPError
//	@Router			/api/projects/{id}/sync [post]
func (h *SyncHandler) sync(c echo.Context) error {
	ctx, span := syncTracer.Start(c.Request().Context(), "SyncHandler.sync")
	defer span.End()
	projectID := c.Param("id")
	span.SetAttributes(attribute.String("project_id", projectID))

	p, err := h.Store.GetProject(ctx, projectID, runtime.UserID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	summary, err := h.Indexer.Sync(ctx, *p)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, crawler.ErrInvalidReference) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, crawler.ErrCrawlFailed) {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, syncView(summary))
}

// Last sync
//
//	@Summary	Most recent sync record for a project
//	@Tags		projects
//	@Produce	json
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		id	path		string	true	"Project ID"
//	@Success	200	{object}	SyncResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/projects/{id}/sync [get]
func (h *SyncHandler) last(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.Store.GetProject(ctx, c.Param("id"), runtime.UserID(c)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	rec, err := h.Store.LastSync(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "never synced")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := SyncResponse{
		FilesIndexed: rec.FilesIndexed,
		FilesFailed:  rec.FilesFailed,
		ChunksStored: rec.ChunksStored,
		Tokens:       rec.Tokens,
		Cost:         rec.Cost,
	}
	if rec.Error != "" {
		out.Errors = []string{rec.Error}
	}
	return c.JSON(http.StatusOK, out)
}

func syncView(s *indexer.IndexSummary) SyncResponse {
	out := SyncResponse{
		FilesIndexed: s.FilesIndexed,
		FilesSkipped: s.FilesSkipped,
		FilesFailed:  s.FilesFailed,
		ChunksStored: s.ChunksStored,
		Tokens:       s.Tokens,
		Cost:         s.Cost,
	}
	for _, e := range s.CrawlErrors {
		out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", e.Path, e.Err))
	}
	for _, f := range s.Failures {
		out.Errors = append(out.Errors, fmt.Sprintf("%s#%d: %s", f.FilePath, f.ChunkIndex, f.Err))
	}
	return out
}
