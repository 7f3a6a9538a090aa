package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/askrepo/askrepo/internal/gate"
	"github.com/askrepo/askrepo/internal/prompt"
	"github.com/askrepo/askrepo/internal/retrieval"
	"github.com/askrepo/askrepo/internal/store"
	gemini_provider "github.com/askrepo/askrepo/provider/gemini"
)

// SourcesSentinel delimits the machine-readable citation trailer appended
// after the streamed prose. Callers split on it to recover the match list.
const SourcesSentinel = "\n\n__SOURCES__:"

var (
	// ErrFeatureForbidden indicates the user's tier does not include the
	// requested capability.
	ErrFeatureForbidden = errors.New("feature not available on this tier")
	// ErrLimitReached indicates the monthly usage limit is exhausted.
	ErrLimitReached = errors.New("monthly usage limit reached")
	// ErrBadMedia indicates the media payload could not be used.
	ErrBadMedia = errors.New("invalid media payload")
)

// Store is the persistence surface the orchestrator touches.
type Store interface {
	GetProject(ctx context.Context, id, userID string) (*store.Project, error)
	LogUsage(ctx context.Context, rec store.UsageRecord) error
}

// Retriever runs project-scoped similarity search.
type Retriever interface {
	Search(ctx context.Context, projectID, query string) ([]retrieval.Match, error)
}

// Gater checks feature access before billable work.
type Gater interface {
	CheckAccess(ctx context.Context, userID, feature string) (gate.Decision, error)
}

// Generator is the streaming generative backend.
type Generator interface {
	StreamGenerate(ctx context.Context, req gemini_provider.StreamRequest, emit func(delta string) error) (*gemini_provider.StreamUsage, error)
	UploadMedia(ctx context.Context, r io.Reader, mimeType string) (*gemini_provider.Media, error)
	DeleteMedia(ctx context.Context, name string) error
}

// Sink receives streamed output. Writes are synchronous so the generation
// loop is back-pressured by the client connection.
type Sink interface {
	Write(p []byte) (int, error)
	Flush()
}

// Request is one chat turn.
type Request struct {
	UserID    string
	ProjectID string
	Query     string
	// MediaData is an inline payload: either a data URI or raw base64
	// with MediaMIME set.
	MediaData string
	MediaMIME string
	// MediaURL is a remote asset to download and upload to the provider.
	MediaURL string
}

// HasMedia reports whether the request carries any media input.
func (r Request) HasMedia() bool {
	return r.MediaData != "" || r.MediaURL != ""
}

// Service orchestrates one chat turn: gate, retrieve, prepare media,
// stream generation, then finalize usage and citations.
type Service struct {
	store     Store
	retriever Retriever
	gater     Gater
	gen       Generator
	model     string
	http      *http.Client
	logger    *log.Logger
}

func New(st Store, retriever Retriever, gater Gater, gen Generator, model string) *Service {
	return &Service{
		store:     st,
		retriever: retriever,
		gater:     gater,
		gen:       gen,
		model:     model,
		http:      &http.Client{Timeout: 60 * time.Second},
		logger:    log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
}

// Stream runs the full chat turn against sink. No usage entry is written
// when the stream is aborted by the caller.
func (s *Service) Stream(ctx context.Context, req Request, sink Sink) error {
	tracer := otel.Tracer("chat")
	ctx, span := tracer.Start(ctx, "chat.stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", req.ProjectID),
		attribute.Bool("has_media", req.HasMedia()),
	)

	if req.MediaData != "" && req.MediaURL != "" {
		return fmt.Errorf("%w: inline media and media url are mutually exclusive", ErrBadMedia)
	}

	// Gating before any billable side effect.
	decision, err := s.gater.CheckAccess(ctx, req.UserID, gate.FeatureChat)
	if err != nil {
		return fmt.Errorf("check chat access: %w", err)
	}
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrLimitReached, decision.Reason)
	}
	if req.HasMedia() {
		decision, err = s.gater.CheckAccess(ctx, req.UserID, gate.FeatureMedia)
		if err != nil {
			return fmt.Errorf("check media access: %w", err)
		}
		if !decision.Allowed {
			return fmt.Errorf("%w: %s", ErrFeatureForbidden, decision.Reason)
		}
	}

	project, err := s.store.GetProject(ctx, req.ProjectID, req.UserID)
	if err != nil {
		return err
	}

	// Retrieval failures degrade to an answer without code context.
	matches, err := s.retriever.Search(ctx, req.ProjectID, req.Query)
	if err != nil {
		s.logger.Printf("retrieval failed for project %s, continuing without context: %v", req.ProjectID, err)
		matches = nil
	}

	genReq := gemini_provider.StreamRequest{
		Prompt: req.Query,
		System: prompt.Build(matches, prompt.StackFromNames(project.TechStack), req.HasMedia()),
	}
	if req.MediaData != "" {
		blob, err := decodeInlineMedia(req.MediaData, req.MediaMIME)
		if err != nil {
			return err
		}
		genReq.Inline = append(genReq.Inline, blob)
	}
	if req.MediaURL != "" {
		media, err := s.prepareRemoteMedia(ctx, req.MediaURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.gen.DeleteMedia(context.WithoutCancel(ctx), media.Name); err != nil {
				s.logger.Printf("delete uploaded media %s: %v", media.Name, err)
			}
		}()
		genReq.Media = append(genReq.Media, *media)
	}

	usage, err := s.gen.StreamGenerate(ctx, genReq, func(delta string) error {
		if _, werr := sink.Write([]byte(delta)); werr != nil {
			return werr
		}
		sink.Flush()
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// Client went away: release upstream, bill nothing.
			return ctx.Err()
		}
		return fmt.Errorf("generate: %w", err)
	}

	if len(matches) > 0 {
		trailer, err := json.Marshal(matches)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
		if _, err := sink.Write(append([]byte(SourcesSentinel), trailer...)); err != nil {
			return err
		}
		sink.Flush()
	}

	rec := store.UsageRecord{
		UserID:       req.UserID,
		ProjectID:    req.ProjectID,
		Kind:         store.UsageKindChat,
		Model:        s.model,
		InputTokens:  int64(usage.InputTokens),
		OutputTokens: int64(usage.OutputTokens),
		Cost:         usage.Cost,
	}
	if err := s.store.LogUsage(ctx, rec); err != nil {
		s.logger.Printf("log chat usage for user %s: %v", req.UserID, err)
	}
	return nil
}

// decodeInlineMedia accepts either a data URI or raw base64 plus an
// explicit mime type.
func decodeInlineMedia(data, mimeType string) (gemini_provider.Blob, error) {
	if strings.HasPrefix(data, "data:") {
		rest := strings.TrimPrefix(data, "data:")
		semi := strings.Index(rest, ";base64,")
		if semi < 0 {
			return gemini_provider.Blob{}, fmt.Errorf("%w: data URI is not base64", ErrBadMedia)
		}
		mimeType = rest[:semi]
		data = rest[semi+len(";base64,"):]
	}
	if mimeType == "" {
		return gemini_provider.Blob{}, fmt.Errorf("%w: missing mime type", ErrBadMedia)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return gemini_provider.Blob{}, fmt.Errorf("%w: %v", ErrBadMedia, err)
	}
	return gemini_provider.Blob{MIMEType: mimeType, Data: raw}, nil
}

// prepareRemoteMedia downloads a remote asset to a scratch file and
// uploads it to the provider. The scratch file is removed on every path.
func (s *Service) prepareRemoteMedia(ctx context.Context, url string) (*gemini_provider.Media, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMedia, err)
	}
	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download returned status %d", ErrBadMedia, resp.StatusCode)
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" {
		return nil, fmt.Errorf("%w: missing content type", ErrBadMedia)
	}

	tmp, err := os.CreateTemp("", "askrepo-media-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	defer func() {
		tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil {
			s.logger.Printf("remove scratch file %s: %v", tmp.Name(), err)
		}
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind scratch file: %w", err)
	}
	return s.gen.UploadMedia(ctx, tmp, mimeType)
}
