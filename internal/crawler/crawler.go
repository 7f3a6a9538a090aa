package crawler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/askrepo/askrepo/config"
)

// FallbackBranch is tried once when the requested branch is missing.
const FallbackBranch = "master"

var (
	// ErrInvalidReference indicates a malformed repository reference.
	ErrInvalidReference = errors.New("invalid repository reference")
	// ErrCrawlFailed indicates the file tree could not be fetched, even
	// after the fallback branch attempt.
	ErrCrawlFailed = errors.New("repository crawl failed")
)

// RepoRef identifies a repository and branch to crawl.
type RepoRef struct {
	Owner  string
	Repo   string
	Branch string
}

func (r RepoRef) String() string {
	return fmt.Sprintf("%s/%s@%s", r.Owner, r.Repo, r.Branch)
}

// ParseRef parses "owner/repo" or "owner/repo@branch" into a RepoRef.
// The branch defaults to "main".
func ParseRef(ref string) (RepoRef, error) {
	ref = strings.TrimSpace(ref)
	branch := "main"
	if at := strings.LastIndex(ref, "@"); at >= 0 {
		branch = strings.TrimSpace(ref[at+1:])
		ref = ref[:at]
	}
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || branch == "" {
		return RepoRef{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return RepoRef{Owner: parts[0], Repo: parts[1], Branch: branch}, nil
}

// FileRecord is one crawled file with decoded content. It lives only for
// the duration of a crawl+index cycle.
type FileRecord struct {
	Path     string
	Content  string
	Size     int
	Language string
}

// FileError records a per-file fetch failure that did not abort the crawl.
type FileError struct {
	Path string
	Err  string
}

// CrawlResult is the batch summary of one crawl: fetched files plus the
// failures that were absorbed along the way.
type CrawlResult struct {
	Files  []FileRecord
	Failed []FileError
}

// Crawler fetches eligible files from a GitHub repository.
type Crawler struct {
	baseURL  string
	token    string
	maxFiles int
	workers  int
	client   *http.Client
	logger   *log.Logger
}

// New builds a Crawler from configuration.
func New(cfg config.CrawlerConfig) *Crawler {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 200
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	return &Crawler{
		baseURL:  strings.TrimRight(base, "/"),
		token:    cfg.GitHubToken,
		maxFiles: maxFiles,
		workers:  workers,
		client:   &http.Client{Timeout: timeout},
		logger:   log.New(log.Writer(), "[CRAWL] ", log.LstdFlags),
	}
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int    `json:"size"`
}

type treeResponse struct {
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

type contentResponse struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
}

// Crawl resolves the repository tree, filters eligible blobs, and fetches
// their contents concurrently. Individual file failures are collected in
// the result and never abort the crawl.
func (c *Crawler) Crawl(ctx context.Context, ref RepoRef) (*CrawlResult, error) {
	if ref.Owner == "" || ref.Repo == "" {
		return nil, fmt.Errorf("%w: empty owner or repo", ErrInvalidReference)
	}
	branch := ref.Branch
	entries, err := c.fetchTree(ctx, ref, branch)
	if isNotFound(err) && branch != FallbackBranch {
		c.logger.Printf("branch %q not found on %s/%s, retrying %q", branch, ref.Owner, ref.Repo, FallbackBranch)
		branch = FallbackBranch
		entries, err = c.fetchTree(ctx, ref, branch)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCrawlFailed, ref, err)
	}

	eligible := make([]treeEntry, 0, len(entries))
	for _, e := range entries {
		if e.Type != "blob" {
			continue
		}
		if !EligiblePath(e.Path) {
			continue
		}
		eligible = append(eligible, e)
		if len(eligible) >= c.maxFiles {
			break
		}
	}

	return c.fetchAll(ctx, ref, branch, eligible), nil
}

// fetchAll fans file fetches out over a bounded worker pool and joins
// results back in tree order.
func (c *Crawler) fetchAll(ctx context.Context, ref RepoRef, branch string, entries []treeEntry) *CrawlResult {
	type slot struct {
		idx  int
		file FileRecord
		err  error
	}
	jobs := make(chan int)
	out := make(chan slot, len(entries))

	var wg sync.WaitGroup
	workers := c.workers
	if workers > len(entries) {
		workers = len(entries)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				entry := entries[idx]
				rec, err := c.fetchContent(ctx, ref, branch, entry.Path)
				out <- slot{idx: idx, file: rec, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range entries {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	slots := make([]slot, 0, len(entries))
	for s := range out {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].idx < slots[j].idx })

	res := &CrawlResult{}
	for _, s := range slots {
		if s.err != nil {
			c.logger.Printf("fetch %s: %v", entries[s.idx].Path, s.err)
			res.Failed = append(res.Failed, FileError{Path: entries[s.idx].Path, Err: s.err.Error()})
			continue
		}
		res.Files = append(res.Files, s.file)
	}
	return res
}

func (c *Crawler) fetchTree(ctx context.Context, ref RepoRef, branch string) ([]treeEntry, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		c.baseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Repo), url.PathEscape(branch))
	var payload treeResponse
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	if payload.Truncated {
		c.logger.Printf("tree for %s/%s@%s truncated by provider", ref.Owner, ref.Repo, branch)
	}
	return payload.Tree, nil
}

func (c *Crawler) fetchContent(ctx context.Context, ref RepoRef, branch, path string) (FileRecord, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.baseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Repo), escapePath(path), url.QueryEscape(branch))
	var payload contentResponse
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return FileRecord{}, err
	}
	content, err := decodeContent(payload.Content, payload.Encoding)
	if err != nil {
		return FileRecord{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return FileRecord{
		Path:     path,
		Content:  content,
		Size:     len(content),
		Language: InferLanguage(path),
	}, nil
}

type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.url, e.status)
}

func isNotFound(err error) bool {
	var se *httpStatusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func (c *Crawler) getJSON(ctx context.Context, u string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{status: resp.StatusCode, url: u}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func decodeContent(content, encoding string) (string, error) {
	switch encoding {
	case "base64":
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case "", "none":
		return content, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", encoding)
	}
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
