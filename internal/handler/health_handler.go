package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

const healthProbeTimeout = 2 * time.Second

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Service     string            `json:"service"`
	Environment string            `json:"environment"`
	Checks      map[string]string `json:"checks"`
}

// HealthCheck returns a handler that pings the database and Redis. Either
// dependency may be nil, in which case it is reported as disabled.
func HealthCheck(cfg config.Config, db *gorm.DB, redisClient *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(requestContext(c), healthProbeTimeout)
		defer cancel()

		checks := map[string]string{
			"database": probeDatabase(ctx, db),
			"redis":    probeRedis(ctx, redisClient),
		}

		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Checks:      checks,
		}
		for _, state := range checks {
			if state == "down" {
				payload.Status = "degraded"
			}
		}

		if payload.Status != "ok" {
			return utils.SendSuccessWithStatus(c, fiber.StatusServiceUnavailable, "service degraded", payload)
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}

func probeDatabase(ctx context.Context, db *gorm.DB) string {
	if db == nil {
		return "disabled"
	}
	sqlDB, err := db.DB()
	if err != nil {
		return "down"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "down"
	}
	return "up"
}

func probeRedis(ctx context.Context, client *redis.Client) string {
	if client == nil {
		return "disabled"
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return "down"
	}
	return "up"
}
