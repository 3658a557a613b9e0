package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// RateLimitConfig bounds how often a single caller may hit a route group.
type RateLimitConfig struct {
	// Scope prefixes the limiter key and labels the rejection metric.
	Scope  string
	Max    int
	Window time.Duration
	Logger zerolog.Logger
}

// RateLimit keys requests by authenticated user, falling back to the client
// IP for anonymous callers. Rejections carry a Retry-After header.
func RateLimit(cfg RateLimitConfig) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Scope == "" {
		cfg.Scope = "default"
	}
	logger := cfg.Logger.With().Str("component", "rate_limit").Str("scope", cfg.Scope).Logger()
	retryAfter := strconv.Itoa(int(cfg.Window.Round(time.Second) / time.Second))

	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return rateLimitKey(cfg.Scope, c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			observability.RateLimited().WithLabelValues(cfg.Scope).Inc()
			logger.Warn().
				Str("correlation_id", GetCorrelationID(c)).
				Str("key", rateLimitKey(cfg.Scope, c)).
				Msg("rate limit reached")
			c.Set(fiber.HeaderRetryAfter, retryAfter)
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many requests, slow down")
		},
	})
}

func rateLimitKey(scope string, c *fiber.Ctx) string {
	if userID := UserID(c); userID != "" {
		return scope + ":user:" + userID
	}
	return scope + ":ip:" + c.IP()
}
