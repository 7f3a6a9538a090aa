package gemini_provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	genaiopt "google.golang.org/api/option"

	"github.com/askrepo/askrepo/config"
	"github.com/askrepo/askrepo/provider"
)

var (
	// ErrMediaProcessingFailed indicates the provider rejected an
	// uploaded media file.
	ErrMediaProcessingFailed = errors.New("media processing failed")
	// ErrMediaTimeout indicates an uploaded media file did not become
	// ready within the polling window.
	ErrMediaTimeout = errors.New("media processing timed out")
)

// Client wraps the Gemini generative API for streaming chat with
// optional media attachments.
type Client struct {
	genai     *genai.Client
	model     string
	costIn    float64
	costOut   float64
	pollEvery time.Duration
	maxChecks int
	logger    *log.Logger
}

// NewClient creates a Gemini client from configuration.
func NewClient(ctx context.Context, cfg config.GeminiConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key not configured")
	}
	gc, err := genai.NewClient(ctx, genaiopt.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	pollEvery := cfg.UploadPollEvery
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	maxChecks := cfg.UploadMaxChecks
	if maxChecks <= 0 {
		maxChecks = 60
	}
	return &Client{
		genai:     gc,
		model:     model,
		costIn:    cfg.CostPer1KInput,
		costOut:   cfg.CostPer1KOutput,
		pollEvery: pollEvery,
		maxChecks: maxChecks,
		logger:    log.New(log.Writer(), "[GEMINI] ", log.LstdFlags),
	}, nil
}

// Close releases the underlying API client.
func (c *Client) Close() error { return c.genai.Close() }

// Media is a provider-side file reference usable as a prompt part.
type Media struct {
	Name     string
	URI      string
	MIMEType string
}

// UploadMedia uploads a media file and polls until the provider marks it
// active. The caller must DeleteMedia the returned file after use.
func (c *Client) UploadMedia(ctx context.Context, r io.Reader, mimeType string) (*Media, error) {
	file, err := c.genai.UploadFile(ctx, "", r, &genai.UploadFileOptions{MIMEType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}
	for i := 0; i < c.maxChecks; i++ {
		switch file.State {
		case genai.FileStateActive:
			return &Media{Name: file.Name, URI: file.URI, MIMEType: mimeType}, nil
		case genai.FileStateFailed:
			c.deleteQuietly(ctx, file.Name)
			return nil, fmt.Errorf("%w: %s", ErrMediaProcessingFailed, file.Name)
		}
		select {
		case <-ctx.Done():
			c.deleteQuietly(ctx, file.Name)
			return nil, ctx.Err()
		case <-time.After(c.pollEvery):
		}
		file, err = c.genai.GetFile(ctx, file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to poll media state: %w", err)
		}
	}
	c.deleteQuietly(ctx, file.Name)
	return nil, fmt.Errorf("%w after %d checks", ErrMediaTimeout, c.maxChecks)
}

// DeleteMedia removes an uploaded file from the provider.
func (c *Client) DeleteMedia(ctx context.Context, name string) error {
	return c.genai.DeleteFile(ctx, name)
}

func (c *Client) deleteQuietly(ctx context.Context, name string) {
	if err := c.genai.DeleteFile(ctx, name); err != nil {
		c.logger.Printf("delete media %s: %v", name, err)
	}
}

// Blob is an inline media payload sent directly with the prompt.
type Blob struct {
	MIMEType string
	Data     []byte
}

// StreamRequest describes one generation call.
type StreamRequest struct {
	System string
	Prompt string
	Media  []Media
	Inline []Blob
}

// StreamUsage summarizes token consumption of one generation.
type StreamUsage struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// StreamGenerate runs a streaming generation and calls emit for every
// text delta as it arrives. A non-nil error from emit aborts the stream
// and is returned as-is. Usage is reported from provider metadata when
// present, otherwise estimated from text length.
func (c *Client) StreamGenerate(ctx context.Context, req StreamRequest, emit func(delta string) error) (*StreamUsage, error) {
	model := c.genai.GenerativeModel(c.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	parts := make([]genai.Part, 0, len(req.Media)+len(req.Inline)+1)
	for _, m := range req.Media {
		parts = append(parts, genai.FileData{MIMEType: m.MIMEType, URI: m.URI})
	}
	for _, b := range req.Inline {
		parts = append(parts, genai.Blob{MIMEType: b.MIMEType, Data: b.Data})
	}
	parts = append(parts, genai.Text(req.Prompt))

	usage := &StreamUsage{}
	var outputChars int
	iter := model.GenerateContentStream(ctx, parts...)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("generation stream failed: %w", err)
		}
		if resp.UsageMetadata != nil {
			usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				text, ok := part.(genai.Text)
				if !ok || text == "" {
					continue
				}
				outputChars += len(text)
				if err := emit(string(text)); err != nil {
					return nil, err
				}
			}
		}
	}

	if usage.InputTokens == 0 {
		usage.InputTokens = provider.EstimateTokens(req.System + req.Prompt)
	}
	if usage.OutputTokens == 0 && outputChars > 0 {
		usage.OutputTokens = (outputChars + provider.CharsPerToken - 1) / provider.CharsPerToken
	}
	usage.Cost = provider.Cost(usage.InputTokens, c.costIn) + provider.Cost(usage.OutputTokens, c.costOut)
	return usage, nil
}
