package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/observability"
)

// Observability records request metrics and one structured log line per
// request. Streaming handlers return once the body writer is installed, so
// hint and event streams are timed up to the first byte only.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()
	logger = logger.With().Str("component", "http").Logger()

	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		route := routeTemplate(c)
		method := c.Method()
		status := c.Response().StatusCode()
		if fiberErr, ok := err.(*fiber.Error); ok {
			status = fiberErr.Code
		}
		statusLabel := strconv.Itoa(status)

		observability.APIRequests().WithLabelValues(method, route, statusLabel).Inc()
		observability.APILatency().WithLabelValues(method, route).Observe(elapsed.Seconds())
		if status >= fiber.StatusBadRequest {
			observability.APIErrors().WithLabelValues(method, route, statusLabel).Inc()
		}

		fields := logger.With().
			Str("correlation_id", GetCorrelationID(c)).
			Str("route", route).
			Str("method", method).
			Int("status", status).
			Dur("latency", elapsed).
			Str("latency_bucket", latencyBucket(elapsed))
		if userID := UserID(c); userID != "" {
			fields = fields.Str("user_id", userID)
		}
		requestLogger := fields.Logger()

		switch {
		case status >= fiber.StatusInternalServerError:
			requestLogger.Error().Err(err).Msg("request failed")
		case status >= fiber.StatusBadRequest:
			requestLogger.Warn().Err(err).Msg("request rejected")
		case isProbe(route):
			requestLogger.Debug().Msg("probe served")
		default:
			requestLogger.Info().Msg("request completed")
		}

		return err
	}
}

func isProbe(route string) bool {
	return route == "/health" || route == "/api/v1/health"
}

func routeTemplate(c *fiber.Ctx) string {
	if c.Route() != nil && c.Route().Path != "" {
		return c.Route().Path
	}
	return c.Path()
}

func latencyBucket(d time.Duration) string {
	switch {
	case d <= 50*time.Millisecond:
		return "fast"
	case d <= 250*time.Millisecond:
		return "ok"
	case d <= time.Second:
		return "slow"
	default:
		return "very_slow"
	}
}
