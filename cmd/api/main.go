package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/content"
	"github.com/noah-isme/gema-grading-api/internal/database"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/queue"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/router"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if cfg.JWTSecret == "" {
		log.Fatalf("jwt secret must be provided")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PostgresOptions{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Submission{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL, database.RedisOptions{ClientName: "gema-api"})
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName+" api", logger)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, using redis pub/sub only")
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	backend, err := ai.NewBackend(ai.ProviderConfig{
		Provider:        cfg.AIProvider,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		Model:           cfg.AIModel,
		Temperature:     cfg.AITemperature,
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("failed to configure ai backend: %v", err)
	}

	lessons, err := content.NewGitHubProvider(content.GitHubConfig{
		Token:           cfg.ContentGitHubToken,
		Repository:      cfg.ContentRepository,
		CacheTTL:        cfg.ContentCacheTTL,
		CacheMaxEntries: cfg.ContentCacheMaxEntries,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create content provider: %v", err)
	}
	defer lessons.Close()

	validate := validator.New(validator.WithRequiredStructEnabled())

	eventsCtx, stopEvents := context.WithCancel(context.Background())
	defer stopEvents()
	events := service.NewGradingEventService(redisClient, cfg.EventsChannel, natsConn, logger)
	events.Start(eventsCtx)

	submissionRepo := repository.NewSubmissionRepository(db)
	jobs := queue.NewRedisQueue(redisClient, cfg.QueueName, "", logger)
	observability.RegisterQueueDepth(func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		depth, err := jobs.Depth(ctx)
		if err != nil {
			return 0
		}
		return float64(depth)
	})

	hintService := service.NewHintService(lessons, backend, redisClient, validate, service.HintServiceConfig{
		DailyLimit: cfg.HintDailyLimit,
		MaxPending: cfg.CitationMaxPending,
	}, logger)
	adminService := service.NewAdminSubmissionService(submissionRepo, validate, events, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		GradeHandler:           handler.NewGradeHandler(jobs, cfg.WebhookSecret, logger),
		HintHandler:            handler.NewHintHandler(hintService, logger),
		AdminSubmissionHandler: handler.NewAdminSubmissionHandler(adminService, events, logger, cfg.SSEKeepAlive),
		JWTMiddleware:          middleware.JWTProtected(cfg.JWTSecret),
		DB:                     db,
		Redis:                  redisClient,
		Logger:                 logger,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
