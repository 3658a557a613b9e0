package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/content"
	"github.com/noah-isme/gema-grading-api/internal/database"
	"github.com/noah-isme/gema-grading-api/internal/queue"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Str("worker_id", cfg.WorkerID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PostgresOptions{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL, database.RedisOptions{ClientName: "gema-worker", MinPoolSize: 4})
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName+" worker", logger)
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

	grader, err := ai.NewGrader(backend, ai.GraderConfig{
		AttemptTimeout: cfg.AIAttemptTimeout,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("failed to create grader: %v", err)
	}

	exercises, err := content.NewGitHubProvider(content.GitHubConfig{
		Token:           cfg.ContentGitHubToken,
		Repository:      cfg.ContentRepository,
		CacheTTL:        cfg.ContentCacheTTL,
		CacheMaxEntries: cfg.ContentCacheMaxEntries,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create content provider: %v", err)
	}
	defer exercises.Close()

	// Worker events only publish; the API nodes consume them.
	events := service.NewGradingEventService(redisClient, cfg.EventsChannel, natsConn, logger)

	worker := service.NewGradingWorker(
		repository.NewSubmissionRepository(db),
		queue.NewRedisQueue(redisClient, cfg.QueueName, cfg.WorkerID, logger),
		exercises,
		grader,
		events,
		service.GradingWorkerConfig{
			MaxRetries:  cfg.AIMaxRetries,
			PollTimeout: cfg.WorkerPollTimeout,
		},
		logger,
	)

	logger.Info().Str("provider", backend.Name()).Str("model", backend.Model()).Msg("ai backend configured")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("grading worker stopped with error")
		os.Exit(1)
	}
}
