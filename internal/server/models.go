package server

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// MeResponse returns the current authenticated user.
type MeResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Tier   string `json:"tier"`
}

// CreateProjectRequest registers a repository for indexing.
type CreateProjectRequest struct {
	Name      string   `json:"name"`
	Repo      string   `json:"repo"`
	TechStack []string `json:"tech_stack"`
	SyncCron  string   `json:"sync_cron"`
}

// ProjectResponse is the client view of a project.
type ProjectResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Repo      string   `json:"repo"`
	Branch    string   `json:"branch"`
	TechStack []string `json:"tech_stack"`
	SyncCron  string   `json:"sync_cron,omitempty"`
	Chunks    int      `json:"chunks"`
}

// SyncResponse summarizes one crawl and index pass.
type SyncResponse struct {
	FilesIndexed int      `json:"files_indexed"`
	FilesSkipped int      `json:"files_skipped"`
	FilesFailed  int      `json:"files_failed"`
	ChunksStored int      `json:"chunks_stored"`
	Tokens       int64    `json:"tokens"`
	Cost         float64  `json:"cost"`
	Errors       []string `json:"errors,omitempty"`
}

// ChatRequest is one question against an indexed project. Media is either
// inline (data URI or raw base64 plus mime type) or a remote URL.
type ChatRequest struct {
	ProjectID string `json:"projectId"`
	Query     string `json:"query"`
	Media     string `json:"media,omitempty"`
	MediaMIME string `json:"mediaMime,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
}
