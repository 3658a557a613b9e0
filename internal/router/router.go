package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradeHandler           *handler.GradeHandler
	HintHandler            *handler.HintHandler
	AdminSubmissionHandler *handler.AdminSubmissionHandler
	JWTMiddleware          fiber.Handler
	DB                     *gorm.DB
	Redis                  *redis.Client
	Logger                 zerolog.Logger
	// HintBurst caps hint requests per user per minute. Zero uses 10.
	HintBurst int
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/health", handler.HealthCheck(cfg, deps.DB, deps.Redis))
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.DB, deps.Redis))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Webhook callers authenticate with the shared secret, not a JWT.
	if deps.GradeHandler != nil {
		deps.GradeHandler.Register(api.Group("/grade"))
	}

	if deps.HintHandler != nil {
		burst := deps.HintBurst
		if burst <= 0 {
			burst = 10
		}
		limit := middleware.RateLimit(middleware.RateLimitConfig{
			Scope:  "hint",
			Max:    burst,
			Window: time.Minute,
			Logger: deps.Logger,
		})
		hint := api.Group("/hint", jwtMiddleware, middleware.RequireUser(), limit)
		deps.HintHandler.Register(hint)
	}

	if deps.AdminSubmissionHandler != nil {
		admin := api.Group("/admin", jwtMiddleware, middleware.RequireRole(middleware.RoleAdmin))
		deps.AdminSubmissionHandler.Register(admin.Group("/submissions"))
	}
}
