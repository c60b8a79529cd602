package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/api/handlers"
	"github.com/reco-agent/backend/internal/app"
	"github.com/reco-agent/backend/internal/metrics"
	"github.com/reco-agent/backend/internal/middleware/ratelimit"
	"github.com/reco-agent/backend/internal/middleware/security"
	"github.com/reco-agent/backend/internal/middleware/validation"
	"github.com/reco-agent/backend/pkg/config"
	appLogger "github.com/reco-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting review assistant API server")

	metrics.Init()

	ctx := context.Background()
	a, err := app.Build(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to build application", zap.Error(err))
	}
	defer a.Close()

	fiberApp := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	origins := splitOrigins(cfg.Server.AllowedOrigins)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New())
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	fiberApp.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: origins,
		FrameAncestors: cfg.Server.FrameAncestors,
		IsDevelopment:  cfg.Server.IsDevelopment,
	}))

	fiberApp.Get("/metrics", metrics.MetricsHandler())

	checks := map[string]handlers.Pinger{"sqlite": a.DB}
	var counter handlers.AskCounter
	if a.Cache != nil {
		checks["redis"] = a.Cache
		counter = a.Cache
	}

	api := fiberApp.Group("/api/v1",
		limiter.Middleware(),
		validation.Middleware(validation.Config{
			MaxQuestionLength: cfg.Server.MaxQuestionLen,
			Logger:            appLogger.GetLogger(),
		}),
	)

	handlers.Register(api, handlers.Set{
		Query:         handlers.NewQueryHandler(a.Engine),
		WebSocket:     handlers.NewWebSocketHandler(a.Engine, a.Runner),
		Conversations: handlers.NewConversationHandler(a.Recorder),
		Research:      handlers.NewResearchHandler(a.Runner),
		Reviews:       handlers.NewReviewHandler(a.Processor, a.DB),
		Settings:      handlers.NewSettingsHandler(a.DB),
		Health:        handlers.NewHealthHandler(checks, counter),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := fiberApp.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := fiberApp.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
