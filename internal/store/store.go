package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store wraps the Postgres database holding users, projects, embeddings
// and usage accounting.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

// Usage kinds persisted in usage_logs.
const (
	UsageKindEmbedding  = "embedding"
	UsageKindChat       = "chat"
	UsageKindInsight    = "insight"
	UsageKindOnboarding = "onboarding"
)

// Subscription tiers.
const (
	TierFree    = "free"
	TierPro     = "pro"
	TierFounder = "founder"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

var (
	metricsOnce    sync.Once
	costCounter    otelmetric.Float64Counter
	tokenCounter   otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	var err error
	costCounter, err = meter.Float64Counter("usage_cost_total")
	if err != nil {
		metricsInitErr = err
		return
	}
	tokenCounter, err = meter.Int64Counter("usage_tokens_total")
	if err != nil {
		metricsInitErr = err
	}
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Tier         string
	CreatedAt    time.Time
}

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, tier) VALUES ($1,$2,$3) RETURNING id`,
		email, hash, TierFree).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, tier, created_at FROM users WHERE email=$1`,
		email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Tier, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, tier, created_at FROM users WHERE id=$1`,
		id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Tier, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpdateUserTier(ctx context.Context, userID, tier string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE users SET tier=$2 WHERE id=$1`, userID, tier)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Project operations

type Project struct {
	ID         string
	UserID     string
	Name       string
	RepoOwner  string
	RepoName   string
	RepoBranch string
	TechStack  []string
	SyncCron   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s *Store) CreateProject(ctx context.Context, p Project) (string, error) {
	if p.UserID == "" {
		return "", fmt.Errorf("user_id required")
	}
	if p.RepoOwner == "" || p.RepoName == "" {
		return "", fmt.Errorf("repo owner and name required")
	}
	stack, err := json.Marshal(p.TechStack)
	if err != nil {
		return "", fmt.Errorf("marshal tech stack: %w", err)
	}
	var id string
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO projects (user_id, name, repo_owner, repo_name, repo_branch, tech_stack, sync_cron)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		p.UserID, p.Name, p.RepoOwner, p.RepoName, p.RepoBranch, stack, p.SyncCron).Scan(&id)
	return id, err
}

func (s *Store) GetProject(ctx context.Context, id, userID string) (*Project, error) {
	var (
		p     Project
		stack []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, name, repo_owner, repo_name, repo_branch, tech_stack, sync_cron, created_at, updated_at
FROM projects WHERE id=$1 AND user_id=$2`, id, userID).
		Scan(&p.ID, &p.UserID, &p.Name, &p.RepoOwner, &p.RepoName, &p.RepoBranch, &stack, &p.SyncCron, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(stack) > 0 {
		_ = json.Unmarshal(stack, &p.TechStack)
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, name, repo_owner, repo_name, repo_branch, tech_stack, sync_cron, created_at, updated_at
FROM projects WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		var (
			p     Project
			stack []byte
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.RepoOwner, &p.RepoName, &p.RepoBranch, &stack, &p.SyncCron, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if len(stack) > 0 {
			_ = json.Unmarshal(stack, &p.TechStack)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListScheduledProjects returns every project with a non-empty sync cron
// expression, across all users, for the scheduler loop.
func (s *Store) ListScheduledProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, name, repo_owner, repo_name, repo_branch, tech_stack, sync_cron, created_at, updated_at
FROM projects WHERE sync_cron <> '' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		var (
			p     Project
			stack []byte
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.RepoOwner, &p.RepoName, &p.RepoBranch, &stack, &p.SyncCron, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if len(stack) > 0 {
			_ = json.Unmarshal(stack, &p.TechStack)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProject(ctx context.Context, p Project) error {
	if p.ID == "" || p.UserID == "" {
		return fmt.Errorf("project id and user_id required")
	}
	stack, err := json.Marshal(p.TechStack)
	if err != nil {
		return fmt.Errorf("marshal tech stack: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE projects SET name=$3, repo_branch=$4, tech_stack=$5, sync_cron=$6, updated_at=NOW()
WHERE id=$1 AND user_id=$2`, p.ID, p.UserID, p.Name, p.RepoBranch, stack, p.SyncCron)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Embedding operations

// EmbeddingRecord represents one stored chunk vector for a project file.
type EmbeddingRecord struct {
	ID         string
	ProjectID  string
	FilePath   string
	ChunkIndex int
	ChunkTotal int
	Content    string
	Language   string
	SizeBytes  int
	Vector     []float32
	CreatedAt  time.Time
}

// ReplaceFileEmbeddings replaces all stored chunks for one file of a
// project with the provided records, in a single transaction. Re-running
// an index pass therefore never leaves stale chunks behind.
func (s *Store) ReplaceFileEmbeddings(ctx context.Context, projectID, filePath string, records []EmbeddingRecord) error {
	if projectID == "" {
		return fmt.Errorf("project_id required")
	}
	if filePath == "" {
		return fmt.Errorf("file_path required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM project_embeddings WHERE project_id=$1 AND file_path=$2`,
		projectID, filePath); err != nil {
		return fmt.Errorf("delete existing file embeddings: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO project_embeddings (project_id, file_path, chunk_index, chunk_total, content, language, size_bytes, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::vector,NOW())
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			return fmt.Errorf("embedding vector required for %s chunk %d", filePath, rec.ChunkIndex)
		}
		vectorLiteral, err := encodeVectorLiteral(rec.Vector)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, projectID, filePath, rec.ChunkIndex, rec.ChunkTotal,
			rec.Content, rec.Language, rec.SizeBytes, vectorLiteral); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFileEmbeddings removes every stored chunk for files of a project
// that are no longer present in the repository.
func (s *Store) DeleteFileEmbeddings(ctx context.Context, projectID string, filePaths []string) error {
	if projectID == "" {
		return fmt.Errorf("project_id required")
	}
	if len(filePaths) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM project_embeddings WHERE project_id=$1 AND file_path = ANY($2)`,
		projectID, pq.Array(filePaths))
	return err
}

// ListIndexedFiles returns the distinct file paths currently indexed for
// a project.
func (s *Store) ListIndexedFiles(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT DISTINCT file_path FROM project_embeddings WHERE project_id=$1 ORDER BY file_path`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EmbeddingSearchResult is one similarity hit with its cosine distance.
type EmbeddingSearchResult struct {
	FilePath   string
	ChunkIndex int
	ChunkTotal int
	Content    string
	Language   string
	Distance   float64
}

// SearchEmbeddings returns the closest chunks for the supplied vector,
// scoped to a single project. Results farther than maxDistance are
// dropped after scan; a negative maxDistance disables the bound.
func (s *Store) SearchEmbeddings(ctx context.Context, projectID string, vector []float32, topK int, maxDistance float64) ([]EmbeddingSearchResult, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project_id required")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 10
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT file_path, chunk_index, chunk_total, content, language, embedding <=> $1::vector AS distance
FROM project_embeddings
WHERE project_id = $2
ORDER BY embedding <=> $1::vector
LIMIT $3
`, vecLiteral, projectID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []EmbeddingSearchResult
	for rows.Next() {
		var res EmbeddingSearchResult
		if err := rows.Scan(&res.FilePath, &res.ChunkIndex, &res.ChunkTotal, &res.Content, &res.Language, &res.Distance); err != nil {
			return nil, err
		}
		if maxDistance >= 0 && res.Distance > maxDistance {
			continue
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// CountProjectEmbeddings returns the number of stored chunks for a project.
func (s *Store) CountProjectEmbeddings(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM project_embeddings WHERE project_id=$1`, projectID).Scan(&n)
	return n, err
}

// Usage accounting

// UsageRecord is one append-only usage log entry.
type UsageRecord struct {
	ID           string
	UserID       string
	ProjectID    string
	Kind         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	CreatedAt    time.Time
}

// LogUsage appends a usage record and bumps the usage counters. Entries
// are never updated or deleted.
func (s *Store) LogUsage(ctx context.Context, rec UsageRecord) error {
	if rec.UserID == "" {
		return fmt.Errorf("user_id required")
	}
	if rec.Kind == "" {
		return fmt.Errorf("usage kind required")
	}
	projectID := sql.NullString{String: rec.ProjectID, Valid: rec.ProjectID != ""}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO usage_logs (user_id, project_id, kind, model, input_tokens, output_tokens, cost, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`,
		rec.UserID, projectID, rec.Kind, rec.Model, rec.InputTokens, rec.OutputTokens, rec.Cost)
	if err != nil {
		return err
	}

	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr == nil {
		attrs := []attribute.KeyValue{attribute.String("kind", rec.Kind)}
		if costCounter != nil && rec.Cost > 0 {
			costCounter.Add(ctx, rec.Cost, otelmetric.WithAttributes(attrs...))
		}
		if tokenCounter != nil && rec.InputTokens+rec.OutputTokens > 0 {
			tokenCounter.Add(ctx, rec.InputTokens+rec.OutputTokens, otelmetric.WithAttributes(attrs...))
		}
	}
	return nil
}

// MonthlyUsage summarizes one usage kind for the current calendar month.
type MonthlyUsage struct {
	Kind   string
	Count  int64
	Tokens int64
	Cost   float64
}

// CountMonthlyUsage returns the number of usage entries of one kind for
// the user in the current calendar month (UTC).
func (s *Store) CountMonthlyUsage(ctx context.Context, userID, kind string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM usage_logs
WHERE user_id = $1 AND kind = $2
  AND created_at >= date_trunc('month', NOW() AT TIME ZONE 'utc')
`, userID, kind).Scan(&n)
	return n, err
}

// MonthlyUsageSummary aggregates this month's usage per kind for a user.
func (s *Store) MonthlyUsageSummary(ctx context.Context, userID string) ([]MonthlyUsage, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT kind, COUNT(*), COALESCE(SUM(input_tokens + output_tokens),0), COALESCE(SUM(cost),0)
FROM usage_logs
WHERE user_id = $1
  AND created_at >= date_trunc('month', NOW() AT TIME ZONE 'utc')
GROUP BY kind
ORDER BY kind
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthlyUsage
	for rows.Next() {
		var m MonthlyUsage
		if err := rows.Scan(&m.Kind, &m.Count, &m.Tokens, &m.Cost); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetUsageLimitOverride returns the per-user monthly limit override for a
// feature, or ErrNotFound when none is set.
func (s *Store) GetUsageLimitOverride(ctx context.Context, userID, feature string) (int64, error) {
	var limit int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT monthly_limit FROM usage_limit_overrides WHERE user_id=$1 AND feature=$2`,
		userID, feature).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return limit, err
}

// SetUsageLimitOverride creates or updates a per-user monthly limit.
func (s *Store) SetUsageLimitOverride(ctx context.Context, userID, feature string, monthlyLimit int64) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO usage_limit_overrides (user_id, feature, monthly_limit, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (user_id, feature) DO UPDATE SET
  monthly_limit = EXCLUDED.monthly_limit,
  updated_at    = NOW();
`, userID, feature, monthlyLimit)
	return err
}

// Sync history

// SyncRecord summarizes one completed crawl+index pass for a project.
type SyncRecord struct {
	ID           string
	ProjectID    string
	FilesIndexed int
	FilesFailed  int
	ChunksStored int
	Tokens       int64
	Cost         float64
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (s *Store) RecordSync(ctx context.Context, rec SyncRecord) error {
	if rec.ProjectID == "" {
		return fmt.Errorf("project_id required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO project_syncs (project_id, files_indexed, files_failed, chunks_stored, tokens, cost, error, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ProjectID, rec.FilesIndexed, rec.FilesFailed, rec.ChunksStored,
		rec.Tokens, rec.Cost, rec.Error, rec.StartedAt, rec.FinishedAt)
	return err
}

func (s *Store) LastSync(ctx context.Context, projectID string) (*SyncRecord, error) {
	var rec SyncRecord
	err := s.DB.QueryRowContext(ctx, `
SELECT id, project_id, files_indexed, files_failed, chunks_stored, tokens, cost, error, started_at, finished_at
FROM project_syncs WHERE project_id=$1 ORDER BY finished_at DESC LIMIT 1`, projectID).
		Scan(&rec.ID, &rec.ProjectID, &rec.FilesIndexed, &rec.FilesFailed, &rec.ChunksStored,
			&rec.Tokens, &rec.Cost, &rec.Error, &rec.StartedAt, &rec.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SimilarityToMaxDistance converts a cosine similarity threshold into
// the pgvector distance bound used by SearchEmbeddings. A threshold of 1
// yields a bound of 0: only exact matches pass.
func SimilarityToMaxDistance(threshold float64) float64 {
	return math.Max(0, 1-threshold)
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
