package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestCreateProject(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`
INSERT INTO projects (user_id, name, repo_owner, repo_name, repo_branch, tech_stack, sync_cron)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`)
	mock.ExpectQuery(query).
		WithArgs("user-1", "widgets", "acme", "widgets", "main", []byte(`["go","postgres"]`), "@daily").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("proj-1"))

	id, err := st.CreateProject(context.Background(), Project{
		UserID:     "user-1",
		Name:       "widgets",
		RepoOwner:  "acme",
		RepoName:   "widgets",
		RepoBranch: "main",
		TechStack:  []string{"go", "postgres"},
		SyncCron:   "@daily",
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if id != "proj-1" {
		t.Errorf("id = %q", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetProjectScopedToUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`
SELECT id, user_id, name, repo_owner, repo_name, repo_branch, tech_stack, sync_cron, created_at, updated_at
FROM projects WHERE id=$1 AND user_id=$2`)
	now := time.Now()
	mock.ExpectQuery(query).WithArgs("proj-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "repo_owner", "repo_name", "repo_branch", "tech_stack", "sync_cron", "created_at", "updated_at"}).
			AddRow("proj-1", "user-1", "widgets", "acme", "widgets", "main", []byte(`["go"]`), "", now, now))
	mock.ExpectQuery(query).WithArgs("proj-1", "user-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "repo_owner", "repo_name", "repo_branch", "tech_stack", "sync_cron", "created_at", "updated_at"}))

	p, err := st.GetProject(context.Background(), "proj-1", "user-1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.RepoOwner != "acme" || len(p.TechStack) != 1 || p.TechStack[0] != "go" {
		t.Errorf("project = %+v", p)
	}

	// Another user's id never resolves the same project.
	if _, err := st.GetProject(context.Background(), "proj-1", "user-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign user, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateUserTierMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET tier=$2 WHERE id=$1`)).
		WithArgs("ghost", TierPro).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.UpdateUserTier(context.Background(), "ghost", TierPro); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
