package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/askrepo/askrepo/config"
	"github.com/askrepo/askrepo/internal/chat"
	"github.com/askrepo/askrepo/internal/chunker"
	"github.com/askrepo/askrepo/internal/crawler"
	"github.com/askrepo/askrepo/internal/gate"
	"github.com/askrepo/askrepo/internal/indexer"
	"github.com/askrepo/askrepo/internal/retrieval"
	"github.com/askrepo/askrepo/internal/runtime"
	"github.com/askrepo/askrepo/internal/store"
	gemini_provider "github.com/askrepo/askrepo/provider/gemini"
	openai_provider "github.com/askrepo/askrepo/provider/openai"
)

func Run(addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	cfg := appconfig.LoadConfig("")
	if err := Migrate("file://migrations", "", "up", 0); err != nil {
		log.Printf("migrate: %v", err)
	}

	ctx := context.Background()
	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	if cfg.Databases.Redis.Host == "" || cfg.Databases.Redis.Port == "" {
		return fmt.Errorf("redis not configured (databases.redis.host/port)")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Databases.Redis.Addr(),
		Password: cfg.Databases.Redis.Password,
		DB:       cfg.Databases.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr(), err)
	}

	// Providers
	if cfg.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api key not configured (providers.openai.api_key)")
	}
	embedder := openai_provider.NewClient(cfg.Providers.OpenAI)
	if cfg.Providers.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api key not configured (providers.gemini.api_key)")
	}
	gen, err := gemini_provider.NewClient(ctx, cfg.Providers.Gemini)
	if err != nil {
		return err
	}

	// Pipeline
	cr := crawler.New(cfg.Crawler)
	splitter := chunker.New(cfg.Indexer.ChunkSize)
	idx := indexer.New(cr, splitter, embedder, st,
		cfg.Providers.OpenAI.EmbeddingModel, cfg.Providers.OpenAI.CostPer1KTokens)
	engine := retrieval.New(embedder, st, cfg.Retrieval)
	gt := gate.New(st, rdb)
	chatSvc := chat.New(st, engine, gt, gen, cfg.Providers.Gemini.Model)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	protected := api.Group("")
	protected.Use(runtime.EchoAuthMiddleware(secret))
	protected.GET("/me", auth.me)

	ph := &ProjectsHandler{Store: st}
	ph.Register(protected.Group("/projects"))
	sh := &SyncHandler{Store: st, Indexer: idx}
	sh.Register(protected.Group("/projects"))
	NewChatHandler(chatSvc).Register(protected)
	uh := &UsageHandler{Gate: gt}
	uh.Register(protected.Group("/usage"))

	sched := &Scheduler{Store: st, Indexer: idx, Rdb: rdb, Stop: make(chan struct{})}
	sched.Start()

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":8080"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
