package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/askrepo/askrepo/internal/crawler"
	"github.com/askrepo/askrepo/internal/runtime"
	"github.com/askrepo/askrepo/internal/store"
)

type ProjectsHandler struct {
	Store *store.Store
}

func (h *ProjectsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.remove)
}

// List projects
//
//	@Summary	List projects
//	@Tags		projects
//	@Produce	json
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Success	200	{array}		ProjectResponse
//	@Failure	500	{object}	HTTPError
//	@Router		/api/projects [get]
func (h *ProjectsHandler) list(c echo.Context) error {
	ctx := c.Request().Context()
	projects, err := h.Store.ListProjects(ctx, runtime.UserID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectView(p, 0))
	}
	return c.JSON(http.StatusOK, out)
}

// Create project
//
//	@Summary		Register a repository
//	@Description	Repo is "owner/name" with an optional "@branch" suffix
//	@Tags			projects
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Security		CookieAuth
//	@Param			payload	body		CreateProjectRequest	true	"Project payload"
//	@Success		201		{object}	IDResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/projects [post]
func (h *ProjectsHandler) create(c echo.Context) error {
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ref, err := crawler.ParseRef(req.Repo)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	name := req.Name
	if name == "" {
		name = ref.Repo
	}
	id, err := h.Store.CreateProject(c.Request().Context(), store.Project{
		UserID:     runtime.UserID(c),
		Name:       name,
		RepoOwner:  ref.Owner,
		RepoName:   ref.Repo,
		RepoBranch: ref.Branch,
		TechStack:  req.TechStack,
		SyncCron:   req.SyncCron,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// Get project
//
//	@Summary	Project detail with indexed chunk count
//	@Tags		projects
//	@Produce	json
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		id	path		string	true	"Project ID"
//	@Success	200	{object}	ProjectResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/projects/{id} [get]
func (h *ProjectsHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.Store.GetProject(ctx, c.Param("id"), runtime.UserID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	chunks, err := h.Store.CountProjectEmbeddings(ctx, p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, projectView(*p, chunks))
}

// Delete project
//
//	@Summary	Delete a project and its index
//	@Tags		projects
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		id	path	string	true	"Project ID"
//	@Success	204	{string}	string	"No Content"
//	@Failure	404	{object}	HTTPError
//	@Router		/api/projects/{id} [delete]
func (h *ProjectsHandler) remove(c echo.Context) error {
	err := h.Store.DeleteProject(c.Request().Context(), c.Param("id"), runtime.UserID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func projectView(p store.Project, chunks int) ProjectResponse {
	return ProjectResponse{
		ID:        p.ID,
		Name:      p.Name,
		Repo:      fmt.Sprintf("%s/%s", p.RepoOwner, p.RepoName),
		Branch:    p.RepoBranch,
		TechStack: p.TechStack,
		SyncCron:  p.SyncCron,
		Chunks:    chunks,
	}
}
