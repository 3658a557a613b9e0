package middleware

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// Config customises the middleware registration pipeline.
type Config struct {
	Logger       *zerolog.Logger
	AllowOrigins string
	// AccessLog adds fiber's plain-text access log next to the structured one.
	AccessLog bool
}

// Register attaches the middlewares shared by every route.
func Register(app *fiber.App, cfg Config) {
	base := zerolog.New(io.Discard)
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	panicLogger := base.With().Str("component", "recover").Logger()

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			panicLogger.Error().
				Str("correlation_id", GetCorrelationID(c)).
				Str("path", c.Path()).
				Interface("panic", e).
				Msg("handler panicked")
		},
	}))
	app.Use(CorrelationID())
	app.Use(Observability(base))
	if cfg.AccessLog {
		app.Use(logger.New())
	}

	origins := cfg.AllowOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Correlation-ID, X-Webhook-Secret",
		ExposeHeaders: "X-Correlation-ID, Retry-After",
		AllowMethods:  "GET,POST,OPTIONS",
	}))
}
