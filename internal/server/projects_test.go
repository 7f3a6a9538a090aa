package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/askrepo/askrepo/internal/store"
)

func TestCreateProjectParsesRepoRef(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &ProjectsHandler{Store: &store.Store{DB: db}}

	mock.ExpectQuery(`INSERT INTO projects`).
		WithArgs("user-1", "widgets", "acme", "widgets", "dev", sqlmock.AnyArg(), "@daily").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("proj-1"))

	req := httptest.NewRequest(http.MethodPost, "/api/projects",
		strings.NewReader(`{"repo":"acme/widgets@dev","sync_cron":"@daily"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	if err := handler.create(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}
	var resp IDResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "proj-1" {
		t.Fatalf("unexpected id: %q", resp.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateProjectRejectsBadRepo(t *testing.T) {
	e := echo.New()
	handler := &ProjectsHandler{}

	req := httptest.NewRequest(http.MethodPost, "/api/projects",
		strings.NewReader(`{"repo":"not-a-repo"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	err := handler.create(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %v", err)
	}
}

func TestGetProjectNotFoundForOtherUser(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &ProjectsHandler{Store: &store.Store{DB: db}}

	mock.ExpectQuery(`SELECT id, user_id, name, repo_owner, repo_name, repo_branch, tech_stack, sync_cron, created_at, updated_at`).
		WithArgs("proj-1", "intruder").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodGet, "/api/projects/proj-1", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "intruder")
	ctx.SetParamNames("id")
	ctx.SetParamValues("proj-1")

	herr := handler.get(ctx)
	he, ok := herr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %v", herr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListProjectsReturnsView(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &ProjectsHandler{Store: &store.Store{DB: db}}

	now := time.Now()
	mock.ExpectQuery(`FROM projects WHERE user_id=\$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "name", "repo_owner", "repo_name", "repo_branch",
			"tech_stack", "sync_cron", "created_at", "updated_at",
		}).AddRow("proj-1", "user-1", "widgets", "acme", "widgets", "main",
			[]byte(`["go@1.24"]`), "", now, now))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	if err := handler.list(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp []ProjectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Repo != "acme/widgets" || resp[0].Branch != "main" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp[0].TechStack) != 1 || resp[0].TechStack[0] != "go@1.24" {
		t.Fatalf("unexpected tech stack: %+v", resp[0].TechStack)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
