package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/askrepo/askrepo/internal/chat"
)

type fakeStreamer struct {
	deltas []string
	err    error
	got    chat.Request
}

func (f *fakeStreamer) Stream(ctx context.Context, req chat.Request, sink chat.Sink) error {
	f.got = req
	if f.err != nil {
		return f.err
	}
	for _, d := range f.deltas {
		if _, err := sink.Write([]byte(d)); err != nil {
			return err
		}
		sink.Flush()
	}
	return nil
}

func chatContext(t *testing.T, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	return ctx, rec
}

func TestChatStreamsDeltas(t *testing.T) {
	fake := &fakeStreamer{deltas: []string{"Hello, ", "world.", chat.SourcesSentinel + `[{"filePath":"main.go"}]`}}
	handler := NewChatHandler(fake)

	ctx, rec := chatContext(t, `{"projectId":"proj-1","query":"how does startup work?"}`)
	if err := handler.stream(ctx); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "Hello, world.") {
		t.Fatalf("unexpected body: %q", body)
	}
	if !strings.Contains(body, chat.SourcesSentinel) {
		t.Fatalf("missing sources trailer: %q", body)
	}
	if fake.got.UserID != "user-1" || fake.got.ProjectID != "proj-1" {
		t.Fatalf("request not mapped: %+v", fake.got)
	}
}

func TestChatMapsMediaFields(t *testing.T) {
	fake := &fakeStreamer{deltas: []string{"ok"}}
	handler := NewChatHandler(fake)

	ctx, _ := chatContext(t, `{"projectId":"proj-1","query":"what is in this diagram?","media":"aGVsbG8=","mediaMime":"image/png"}`)
	if err := handler.stream(ctx); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if fake.got.MediaData != "aGVsbG8=" || fake.got.MediaMIME != "image/png" {
		t.Fatalf("inline media not mapped: %+v", fake.got)
	}

	ctx, _ = chatContext(t, `{"projectId":"proj-1","query":"what is in this clip?","mediaUrl":"https://example.com/a.mp4"}`)
	if err := handler.stream(ctx); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if fake.got.MediaURL != "https://example.com/a.mp4" || fake.got.MediaData != "" {
		t.Fatalf("remote media not mapped: %+v", fake.got)
	}
}

func TestChatRejectsBothMediaKinds(t *testing.T) {
	handler := NewChatHandler(&fakeStreamer{})

	ctx, _ := chatContext(t, `{"projectId":"proj-1","query":"what is in this diagram?","media":"aGVsbG8=","mediaMime":"image/png","mediaUrl":"https://example.com/a.png"}`)
	err := handler.stream(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %v", err)
	}
}

func TestChatRequiresProjectAndQuery(t *testing.T) {
	handler := NewChatHandler(&fakeStreamer{})

	for _, body := range []string{
		`{"query":"where is the entrypoint?"}`,
		`{"projectId":"proj-1","query":"   "}`, // neither query nor media
	} {
		ctx, _ := chatContext(t, body)
		err := handler.stream(ctx)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400 got %v", body, err)
		}
	}
}

func TestChatLimitReachedMapsToForbidden(t *testing.T) {
	fake := &fakeStreamer{err: fmt.Errorf("%w: chat used 10 of 10", chat.ErrLimitReached)}
	handler := NewChatHandler(fake)

	ctx, _ := chatContext(t, `{"projectId":"proj-1","query":"how does startup work?"}`)
	err := handler.stream(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %v", err)
	}
}

func TestChatMediaForbiddenOnFreeTier(t *testing.T) {
	fake := &fakeStreamer{err: fmt.Errorf("%w: media requires pro", chat.ErrFeatureForbidden)}
	handler := NewChatHandler(fake)

	ctx, _ := chatContext(t, `{"projectId":"proj-1","query":"what is in this image?","mediaUrl":"https://example.com/a.png"}`)
	err := handler.stream(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %v", err)
	}
}

func TestChatBadMediaMapsToBadRequest(t *testing.T) {
	fake := &fakeStreamer{err: fmt.Errorf("%w: data URI is not base64", chat.ErrBadMedia)}
	handler := NewChatHandler(fake)

	ctx, _ := chatContext(t, `{"projectId":"proj-1","query":"what is in this image?","media":"data:image/png,garbage"}`)
	err := handler.stream(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %v", err)
	}
}

func TestChatErrorAfterCommitReturnsNil(t *testing.T) {
	handler := NewChatHandler(&committingStreamer{})

	ctx, rec := chatContext(t, `{"projectId":"proj-1","query":"how does startup work?"}`)
	if err := handler.stream(ctx); err != nil {
		t.Fatalf("expected nil after committed stream, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
}

type committingStreamer struct{}

func (c *committingStreamer) Stream(ctx context.Context, req chat.Request, sink chat.Sink) error {
	_, _ = sink.Write([]byte("partial answer"))
	sink.Flush()
	return fmt.Errorf("generate: upstream hiccup")
}
