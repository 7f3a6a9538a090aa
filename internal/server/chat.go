package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/askrepo/askrepo/internal/chat"
	"github.com/askrepo/askrepo/internal/runtime"
	"github.com/askrepo/askrepo/internal/store"
)

// Streamer runs one chat turn against a sink.
type Streamer interface {
	Stream(ctx context.Context, req chat.Request, sink chat.Sink) error
}

type ChatHandler struct {
	Chat   Streamer
	logger *log.Logger
}

func NewChatHandler(svc Streamer) *ChatHandler {
	return &ChatHandler{Chat: svc, logger: log.New(log.Writer(), "[CHAT] ", log.LstdFlags)}
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.stream)
}

// responseSink adapts the echo response to the chat sink. The first write
// commits a 200 with the streaming headers already set.
type responseSink struct {
	resp *echo.Response
}

func (s *responseSink) Write(p []byte) (int, error) { return s.resp.Write(p) }

func (s *responseSink) Flush() {
	if f, ok := s.resp.Writer.(http.Flusher); ok {
		f.Flush()
	}
}

// Chat
//
//	@Summary		Ask a question about an indexed project
//	@Description	Streams plain text deltas; when code context was used, a __SOURCES__ JSON trailer follows the answer
//	@Tags			chat
//	@Accept			json
//	@Produce		plain
//	@Security		BearerAuth
//	@Security		CookieAuth
//	@Param			payload	body		ChatRequest	true	"Chat payload"
//	@Success		200		{string}	string
//	@Failure		400		{object}	HTTPError
//	@Failure		403		{object}	HTTPError
//	@Failure		404		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/chat [post]
func (h *ChatHandler) stream(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "projectId required")
	}
	if strings.TrimSpace(req.Query) == "" && req.Media == "" && req.MediaURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query or media required")
	}
	if req.Media != "" && req.MediaURL != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "set either media or mediaUrl, not both")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("X-Accel-Buffering", "no")

	err := h.Chat.Stream(c.Request().Context(), chat.Request{
		UserID:    runtime.UserID(c),
		ProjectID: req.ProjectID,
		Query:     req.Query,
		MediaData: req.Media,
		MediaMIME: req.MediaMIME,
		MediaURL:  req.MediaURL,
	}, &responseSink{resp: resp})
	if err == nil {
		return nil
	}
	if c.Request().Context().Err() != nil {
		// Client disconnected mid-stream; nothing left to send.
		return nil
	}
	if resp.Committed {
		// Too late for an error payload, the stream already started.
		h.logger.Printf("stream aborted after commit: %v", err)
		return nil
	}
	switch {
	case errors.Is(err, chat.ErrLimitReached), errors.Is(err, chat.ErrFeatureForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrBadMedia):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
